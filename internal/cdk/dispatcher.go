package cdk

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/barrier"
	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
)

// Default trigger timeouts, used when Deps leaves them zero.
const (
	DefaultTriggerTimeout = time.Second
	DefaultMaxTimeout     = 10 * time.Minute
)

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Channel identifies the transport a request arrived on.
type Channel string

// Transports.
const (
	ChannelHTTP      Channel = "http"
	ChannelWebSocket Channel = "websocket"
	ChannelMQTT      Channel = "mqtt"
)

// Origin describes who sent a request.
type Origin struct {
	Channel Channel

	// Subscriber is the push-channel handle of the sender, nil for
	// request/response transports.
	Subscriber *events.Subscriber

	Remote string
}

// Deps holds the components the dispatcher drives.
type Deps struct {
	Store       *device.Store
	Barrier     *barrier.Timer
	Triggers    *trigger.Manager
	Broadcaster *events.Broadcaster
	Logger      Logger

	DefaultTriggerTimeout time.Duration
	MaxTriggerTimeout     time.Duration
}

// Result is the outcome of one dispatched command.
type Result struct {
	Command string
	Body    map[string]any
	Code    ErrorCode // empty on success
	Text    string
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Code == ""
}

// Status returns "ok" or "failed".
func (r Result) Status() string {
	if r.OK() {
		return "ok"
	}
	return "failed"
}

// Marshal encodes the answer document.
func (r Result) Marshal() ([]byte, error) {
	return json.Marshal(r.Body)
}

type handlerFunc func(o Origin, payload json.RawMessage) (map[string]any, error)

type command struct {
	lockRequired  bool
	triggerAnswer bool
	handle        handlerFunc
	// detail describes the request on the traces stream; optional.
	detail func(payload json.RawMessage) string
}

// Dispatcher routes CDK commands to the device components.
//
// Validation order: unknown name, then lock gate, then payload shape.
// Handlers never leave the store half-mutated: every write is a single
// Store.Mutate call. A panicking handler yields an internalFault answer.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	store       *device.Store
	barrier     *barrier.Timer
	triggers    *trigger.Manager
	broadcaster *events.Broadcaster
	logger      Logger

	defaultTimeout time.Duration
	maxTimeout     time.Duration

	commands map[string]command

	tracesMu  sync.Mutex
	lastTrace string
}

// New creates a Dispatcher.
//
// Returns:
//   - *Dispatcher: ready to dispatch
//   - error: if a required component is missing
func New(deps Deps) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Barrier == nil {
		return nil, fmt.Errorf("barrier timer is required")
	}
	if deps.Triggers == nil {
		return nil, fmt.Errorf("trigger manager is required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	d := &Dispatcher{
		store:          deps.Store,
		barrier:        deps.Barrier,
		triggers:       deps.Triggers,
		broadcaster:    deps.Broadcaster,
		logger:         deps.Logger,
		defaultTimeout: deps.DefaultTriggerTimeout,
		maxTimeout:     deps.MaxTriggerTimeout,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.defaultTimeout <= 0 {
		d.defaultTimeout = DefaultTriggerTimeout
	}
	if d.maxTimeout <= 0 {
		d.maxTimeout = DefaultMaxTimeout
	}
	d.commands = d.commandTable()
	return d, nil
}

// Commands returns the supported command names in sorted order.
func (d *Dispatcher) Commands() []string {
	return slices.Sorted(maps.Keys(d.commands))
}

// LockRequired reports whether name is refused while the device is locked.
func (d *Dispatcher) LockRequired(name string) bool {
	return d.commands[name].lockRequired
}

// HandleMessage decodes a raw CDK document and dispatches it.
func (d *Dispatcher) HandleMessage(ctx context.Context, origin Origin, data []byte) Result {
	req, err := DecodeRequest(data)
	if err != nil {
		return d.finish(origin, "", "", command{}, nil, err)
	}
	return d.Dispatch(ctx, origin, req.Name, req.Payload)
}

// Dispatch runs one command and returns its answer. It never panics and
// never returns without a structured answer.
func (d *Dispatcher) Dispatch(ctx context.Context, origin Origin, name string, payload json.RawMessage) Result {
	cmd, ok := d.commands[name]
	if !ok {
		return d.finish(origin, name, "", command{}, nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name))
	}
	var detail string
	if cmd.detail != nil {
		detail = cmd.detail(payload)
	}
	if cmd.lockRequired && d.store.Read().Locked {
		return d.finish(origin, name, detail, cmd, nil, device.ErrLocked)
	}
	if err := ctx.Err(); err != nil {
		return d.finish(origin, name, detail, cmd, nil, err)
	}

	body, err := d.invoke(name, cmd, origin, payload)
	return d.finish(origin, name, detail, cmd, body, err)
}

func (d *Dispatcher) invoke(name string, cmd command, origin Origin, payload json.RawMessage) (body map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panic recovered",
				"command", name,
				"panic", r,
			)
			body = nil
			err = fmt.Errorf("command %s: panic: %v", name, r)
		}
	}()
	return cmd.handle(origin, payload)
}

// finish converts a handler outcome into a Result and emits its trace.
func (d *Dispatcher) finish(origin Origin, name, detail string, cmd command, body map[string]any, err error) Result {
	res := Result{Command: name, Body: body}

	if err != nil {
		res.Code, res.Text = classify(err)
		if cmd.triggerAnswer {
			res.Body = failedTriggerAnswer(res.Code, res.Text)
		} else {
			res.Body = failedAnswer(res.Code, res.Text)
		}

		if res.Code == CodeInternalFault {
			d.logger.Error("command failed",
				"command", name,
				"channel", string(origin.Channel),
				"remote", origin.Remote,
				"error", err,
			)
		} else {
			d.logger.Warn("command rejected",
				"command", name,
				"channel", string(origin.Channel),
				"code", string(res.Code),
				"error", err,
			)
		}
	} else {
		if res.Body == nil {
			res.Body = okAnswer()
		}
		d.logger.Debug("command handled",
			"command", name,
			"channel", string(origin.Channel),
		)
	}

	d.broadcaster.Publish(events.CategoryTraces,
		events.TracePayload(d.store.Now(), name, res.Status(), string(res.Code), detail))
	return res
}

// mutate applies fn to the store and forwards the resulting notifications.
func (d *Dispatcher) mutate(fn func(tx *device.Tx) error) error {
	ch, err := d.store.Mutate(fn)
	if err != nil {
		return err
	}
	d.broadcaster.PublishChange(ch)
	return nil
}
