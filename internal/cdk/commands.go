package cdk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
)

const emptyXSD = `<?xml version="1.0" encoding="UTF-8"?><xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"></xs:schema>`

func (d *Dispatcher) commandTable() map[string]command {
	ok := func(Origin, json.RawMessage) (map[string]any, error) { return nil, nil }

	return map[string]command{
		// Queries
		"getConfig":     {handle: d.getConfig},
		"getCurrentLog": {handle: d.getCurrentLog},
		"getLog":        {handle: d.getCurrentLog},
		"getDatabase":   {handle: d.getDatabase},
		"getDate":       {handle: d.getDate},
		"getImage":      {handle: d.getImage},
		"getInfos":      {handle: d.getInfos},
		"getTraces":     {handle: d.getTraces},
		"getXSD":        {handle: d.getXSD},
		"keepAlive":     {handle: ok},

		// Barrier and triggers
		"openBarrier": {handle: d.openBarrier},
		"triggerOn":   {handle: d.triggerOn, triggerAnswer: true},
		"triggerOff":  {handle: d.triggerOff, triggerAnswer: true},

		// Lock
		"lock":        {handle: d.lock},
		"unlock":      {handle: d.unlock},
		"setSecurity": {handle: d.setSecurity, lockRequired: true},

		// Lock-gated mutations
		"setConfig":          {handle: d.setConfig, lockRequired: true},
		"editDatabase":       {handle: d.editDatabase, lockRequired: true, detail: editDatabaseDetail},
		"eraseDatabase":      {handle: d.eraseDatabase, lockRequired: true},
		"resetConfig":        {handle: d.resetConfig, lockRequired: true},
		"allowSetConfig":     {handle: d.setConfigAllowed(true), lockRequired: true},
		"forbidSetConfig":    {handle: d.setConfigAllowed(false), lockRequired: true},
		"calibrateZoomFocus": {handle: ok, lockRequired: true},
		"reboot":             {handle: d.reboot, lockRequired: true},

		// Other mutations
		"resetCounters": {handle: d.resetCounters},
		"resetEngine":   {handle: d.resetEngine},

		"setEnableStreams": {handle: d.setEnableStreams},

		// Accepted, nothing to simulate
		"update":            {handle: ok},
		"setup":             {handle: ok},
		"testFTP":           {handle: ok},
		"testNTP":           {handle: ok},
		"updateWebFirmware": {handle: ok},
	}
}

func (d *Dispatcher) getConfig(Origin, json.RawMessage) (map[string]any, error) {
	return map[string]any{"config": d.store.Read().ConfigDocument()}, nil
}

func (d *Dispatcher) getInfos(Origin, json.RawMessage) (map[string]any, error) {
	return map[string]any{"infos": d.store.Read().InfosDocument()}, nil
}

// getCurrentLog serves getCurrentLog and getLog.
func (d *Dispatcher) getCurrentLog(Origin, json.RawMessage) (map[string]any, error) {
	var rec device.Recognition
	err := d.mutate(func(tx *device.Tx) error {
		var err error
		rec, err = tx.CurrentRecognition()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"anpr": events.ANPR(rec)}, nil
}

func (d *Dispatcher) getDatabase(Origin, json.RawMessage) (map[string]any, error) {
	plates := d.store.Read().Plates()
	list := make([]map[string]any, 0, len(plates))
	for _, p := range plates {
		list = append(list, map[string]any{"@value": p})
	}
	return map[string]any{"database": map[string]any{"plate": list}}, nil
}

func (d *Dispatcher) getDate(Origin, json.RawMessage) (map[string]any, error) {
	return map[string]any{"date": map[string]any{"@date": events.FormatDate(d.store.Now())}}, nil
}

func (d *Dispatcher) getImage(Origin, json.RawMessage) (map[string]any, error) {
	return map[string]any{"image": map[string]any{
		"@date": events.FormatDate(d.store.Now()),
		"jpeg":  device.SampleImage,
	}}, nil
}

// getTraces returns a text dump of the device state. The previous dump is
// reported as the old execution.
func (d *Dispatcher) getTraces(Origin, json.RawMessage) (map[string]any, error) {
	current := stateTrace(d.store.Read(), d.store.Now())

	d.tracesMu.Lock()
	old := d.lastTrace
	d.lastTrace = current
	d.tracesMu.Unlock()

	return map[string]any{"traces": map[string]any{
		"currentExecution_old":     base64.StdEncoding.EncodeToString([]byte(old)),
		"currentExecution_current": base64.StdEncoding.EncodeToString([]byte(current)),
	}}, nil
}

func stateTrace(st *device.State, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "date=%s\n", events.FormatDate(now))
	fmt.Fprintf(&b, "locked=%t\n", st.Locked)
	fmt.Fprintf(&b, "configAllowed=%t\n", st.ConfigAllowed)
	fmt.Fprintf(&b, "barrierOpen=%t\n", st.BarrierOpen)
	fmt.Fprintf(&b, "plates=%d\n", len(st.Database))
	for _, name := range []string{device.CounterRecognitions, device.CounterTriggers, device.CounterBarrierOpenings} {
		fmt.Fprintf(&b, "%s=%d\n", name, st.Counters[name])
	}
	if st.LastRecognition != nil {
		fmt.Fprintf(&b, "lastRecognition=%d %s\n", st.LastRecognition.ID, st.LastRecognition.Plate)
	}
	return b.String()
}

func (d *Dispatcher) getXSD(Origin, json.RawMessage) (map[string]any, error) {
	return map[string]any{"xsd": base64.StdEncoding.EncodeToString([]byte(emptyXSD))}, nil
}

type openBarrierPayload struct {
	Duration Int `json:"@duration_ms"`
}

func (d *Dispatcher) openBarrier(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p openBarrierPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	var override time.Duration
	if p.Duration.Set {
		if p.Duration.Value <= 0 || p.Duration.Value > device.MaxBarrierOpenMS {
			return nil, fmt.Errorf("%w: @duration_ms must be between 1 and %d", ErrMalformedPayload, device.MaxBarrierOpenMS)
		}
		override = time.Duration(p.Duration.Value) * time.Millisecond
	}
	if _, err := d.barrier.Open(override); err != nil {
		return nil, err
	}
	return nil, nil
}

type triggerPayload struct {
	CameraID String `json:"@cameraId"`
	Timeout  Int    `json:"@timeout"`
}

func (d *Dispatcher) cameraOrDefault(s String) string {
	if s.Set && s.Value != "" {
		return s.Value
	}
	return d.store.Read().Simulation.CameraID
}

func (d *Dispatcher) triggerOn(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p triggerPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}

	timeout := d.defaultTimeout
	if p.Timeout.Set {
		// Range-check the raw value; converting first can overflow.
		if int64(p.Timeout.Value) > d.maxTimeout.Milliseconds() {
			return nil, fmt.Errorf("%w: @timeout exceeds %d ms", ErrMalformedPayload, d.maxTimeout.Milliseconds())
		}
		timeout = time.Duration(p.Timeout.Value) * time.Millisecond
	}

	sess, err := d.triggers.Start(d.cameraOrDefault(p.CameraID), timeout)
	if err != nil {
		return nil, err
	}
	return triggerAnswer(sess.ID), nil
}

func (d *Dispatcher) triggerOff(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p triggerPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	sess, err := d.triggers.Stop(d.cameraOrDefault(p.CameraID))
	if err != nil {
		return nil, err
	}
	return triggerAnswer(sess.ID), nil
}

type passwordPayload struct {
	Password string `json:"@password"`
}

func (d *Dispatcher) lock(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p passwordPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	ch, err := d.store.Lock(p.Password)
	if err != nil {
		return nil, err
	}
	d.broadcaster.PublishChange(ch)
	return nil, nil
}

func (d *Dispatcher) unlock(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p passwordPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	ch, err := d.store.Unlock(p.Password)
	if err != nil {
		return nil, err
	}
	d.broadcaster.PublishChange(ch)
	return nil, nil
}

type securityPayload struct {
	CurrentLockPassword string `json:"@currentLockPassword"`
	NewLockPassword     string `json:"@newLockPassword"`
}

func (d *Dispatcher) setSecurity(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p securityPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	ch, err := d.store.ChangeLockPassword(p.CurrentLockPassword, p.NewLockPassword)
	if err != nil {
		return nil, err
	}
	d.broadcaster.PublishChange(ch)
	return nil, nil
}

type setConfigPayload struct {
	Config map[string]any `json:"config"`
}

func (d *Dispatcher) setConfig(_ Origin, raw json.RawMessage) (map[string]any, error) {
	var p setConfigPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Config == nil {
		return nil, fmt.Errorf("%w: config element is required", ErrMalformedPayload)
	}
	return nil, d.mutate(func(tx *device.Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		return tx.ApplyConfig(p.Config)
	})
}

type plateValue struct {
	Value string `json:"@value"`
}

type editDatabasePayload struct {
	AddPlate *plateValue `json:"addPlate"`
	DelPlate *plateValue `json:"delPlate"`
}

// plateEdit decodes an editDatabase payload into the action and the
// normalised plate.
func plateEdit(raw json.RawMessage) (add bool, plate string, err error) {
	var p editDatabasePayload
	if err := decodePayload(raw, &p); err != nil {
		return false, "", err
	}
	if (p.AddPlate == nil) == (p.DelPlate == nil) {
		return false, "", fmt.Errorf("%w: exactly one of addPlate or delPlate is required", ErrMalformedPayload)
	}

	add = p.AddPlate != nil
	target := p.DelPlate
	if add {
		target = p.AddPlate
	}
	plate = strings.ToUpper(strings.TrimSpace(target.Value))
	if plate == "" {
		return false, "", fmt.Errorf("%w: @value is required", ErrMalformedPayload)
	}
	return add, plate, nil
}

// editDatabaseDetail renders "add PLATE" or "del PLATE"; empty when the
// payload does not decode.
func editDatabaseDetail(raw json.RawMessage) string {
	add, plate, err := plateEdit(raw)
	if err != nil {
		return ""
	}
	if add {
		return "add " + plate
	}
	return "del " + plate
}

func (d *Dispatcher) editDatabase(_ Origin, raw json.RawMessage) (map[string]any, error) {
	add, plate, err := plateEdit(raw)
	if err != nil {
		return nil, err
	}

	return nil, d.mutate(func(tx *device.Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		if add {
			tx.AddPlate(plate)
		} else {
			tx.DeletePlate(plate)
		}
		return nil
	})
}

func (d *Dispatcher) eraseDatabase(Origin, json.RawMessage) (map[string]any, error) {
	return nil, d.mutate(func(tx *device.Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		tx.ErasePlates()
		return nil
	})
}

func (d *Dispatcher) resetConfig(Origin, json.RawMessage) (map[string]any, error) {
	return nil, d.mutate(func(tx *device.Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		tx.ResetConfig()
		return nil
	})
}

func (d *Dispatcher) setConfigAllowed(allowed bool) handlerFunc {
	return func(Origin, json.RawMessage) (map[string]any, error) {
		return nil, d.mutate(func(tx *device.Tx) error {
			if err := tx.RequireUnlocked(); err != nil {
				return err
			}
			tx.State.ConfigAllowed = allowed
			return nil
		})
	}
}

// reboot closes the barrier and clears the recognition engine. Configuration,
// database and lock survive.
func (d *Dispatcher) reboot(Origin, json.RawMessage) (map[string]any, error) {
	if err := d.mutate(func(tx *device.Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		tx.ResetEngine()
		return nil
	}); err != nil {
		return nil, err
	}
	if err := d.barrier.CloseNow(); err != nil {
		return nil, err
	}
	d.logger.Info("simulated reboot")
	return nil, nil
}

func (d *Dispatcher) resetCounters(Origin, json.RawMessage) (map[string]any, error) {
	return nil, d.mutate(func(tx *device.Tx) error {
		tx.ResetCounters()
		return nil
	})
}

func (d *Dispatcher) resetEngine(Origin, json.RawMessage) (map[string]any, error) {
	return nil, d.mutate(func(tx *device.Tx) error {
		tx.ResetEngine()
		return nil
	})
}

type streamsPayload struct {
	ConfigChanges Bool `json:"@configChanges"`
	InfoChanges   Bool `json:"@infoChanges"`
	Traces        Bool `json:"@traces"`
}

// setEnableStreams updates the sender's stream flags. Absent attributes keep
// their current value. Without a push channel the request is echoed.
func (d *Dispatcher) setEnableStreams(o Origin, raw json.RawMessage) (map[string]any, error) {
	var p streamsPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}

	var flags events.Flags
	if o.Subscriber != nil {
		current, err := d.broadcaster.Flags(o.Subscriber)
		if err != nil {
			return nil, err
		}
		flags = current
	}
	if p.ConfigChanges.Set {
		flags.ConfigChanges = p.ConfigChanges.Value
	}
	if p.InfoChanges.Set {
		flags.InfoChanges = p.InfoChanges.Value
	}
	if p.Traces.Set {
		flags.Traces = p.Traces.Value
	}

	if o.Subscriber != nil {
		if err := d.broadcaster.SetFlags(o.Subscriber, flags); err != nil {
			return nil, err
		}
	}
	return map[string]any{"subscriptions": map[string]any{
		"configChanges": flags.ConfigChanges,
		"infoChanges":   flags.InfoChanges,
		"traces":        flags.Traces,
	}}, nil
}
