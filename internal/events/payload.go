package events

import (
	"strconv"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
)

// Trigger outcome markers carried in @triggerStatus.
const (
	TriggerResolved = "resolved"
	TriggerExpired  = "expired"
)

// FormatDate renders a timestamp the way the device does: epoch milliseconds as a string.
func FormatDate(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Decision renders the decision element of a recognition.
// A recognition that read nothing yields an empty decision.
func Decision(rec device.Recognition) map[string]any {
	if !rec.Read() {
		return map[string]any{}
	}
	d := map[string]any{
		"@plate":       rec.Plate,
		"@reliability": strconv.Itoa(rec.Reliability),
		"@context":     rec.Context,
	}
	if rec.Image != "" {
		d["jpeg"] = rec.Image
	}
	if rec.InDatabase {
		d["database"] = map[string]any{
			"@plate":    rec.Plate,
			"@distance": "0",
		}
	}
	return d
}

// ANPR renders the anpr element shared by getLog answers and recognition events.
func ANPR(rec device.Recognition) map[string]any {
	return map[string]any{
		"@date":     FormatDate(rec.Timestamp),
		"@id":       rec.ID,
		"@session":  rec.SessionID,
		"@cameraId": rec.CameraID,
		"decision":  Decision(rec),
	}
}

// RecognitionPayload is the unsolicited recognition event.
func RecognitionPayload(rec device.Recognition) map[string]any {
	return map[string]any{"anpr": ANPR(rec)}
}

// TriggerResolvedPayload is the trigger-result event for a session closed by triggerOff.
func TriggerResolvedPayload(rec device.Recognition) map[string]any {
	body := ANPR(rec)
	body["@triggerStatus"] = TriggerResolved
	return map[string]any{"anpr": body}
}

// TriggerExpiredPayload is the result-less trigger-result event for a session that timed out.
func TriggerExpiredPayload(sessionID uint64, cameraID string, at time.Time) map[string]any {
	return map[string]any{
		"anpr": map[string]any{
			"@date":          FormatDate(at),
			"@session":       sessionID,
			"@cameraId":      cameraID,
			"@triggerStatus": TriggerExpired,
			"decision":       map[string]any{},
		},
	}
}

// ConfigChangesPayload wraps a configuration document.
func ConfigChangesPayload(config map[string]any) map[string]any {
	return map[string]any{"configChanges": map[string]any{"config": config}}
}

// InfoChangesPayload wraps an infos document.
func InfoChangesPayload(infos map[string]any) map[string]any {
	return map[string]any{"infoChanges": map[string]any{"infos": infos}}
}

// TracePayload describes one dispatched command on the traces stream.
// An empty errorCode or detail is omitted.
func TracePayload(at time.Time, command, status, errorCode, detail string) map[string]any {
	trace := map[string]any{
		"@date":    FormatDate(at),
		"@command": command,
		"@status":  status,
	}
	if errorCode != "" {
		trace["@errorCode"] = errorCode
	}
	if detail != "" {
		trace["@detail"] = detail
	}
	return map[string]any{"traces": trace}
}
