package cdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Request is one decoded CDK message: a JSON object with a single key
// naming the command, whose value is the payload.
type Request struct {
	Name    string
	Payload json.RawMessage
}

// DecodeRequest parses an inbound CDK document.
func DecodeRequest(data []byte) (Request, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(doc) != 1 {
		return Request{}, fmt.Errorf("%w: expected exactly one command, got %d", ErrMalformedPayload, len(doc))
	}
	var req Request
	for name, payload := range doc {
		req = Request{Name: name, Payload: payload}
	}
	if req.Name == "" {
		return Request{}, fmt.Errorf("%w: empty command name", ErrMalformedPayload)
	}
	return req, nil
}

// decodePayload unmarshals a command payload into v. An absent, null or
// empty-string payload leaves v untouched.
func decodePayload(raw json.RawMessage, v any) error {
	if isEmptyPayload(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`))
}

// Int is an integer attribute that also accepts its decimal string form,
// since CDK clients send numbers either way.
type Int struct {
	Value int
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*i = Int{Value: n, Set: true}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*i = Int{Value: int(v), Set: true}
	return nil
}

// String is a text attribute that also accepts a bare number, as camera
// ids sometimes arrive unquoted.
type String struct {
	Value string
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *String) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err == nil {
		*s = String{Value: v, Set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid string %s", data)
	}
	*s = String{Value: n.String(), Set: true}
	return nil
}

// Bool is a boolean attribute that also accepts "true"/"false", "1"/"0"
// and the numbers 1 and 0.
type Bool struct {
	Value bool
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = Bool{Value: v, Set: true}
		return nil
	case float64:
		if v == 0 || v == 1 {
			*b = Bool{Value: v == 1, Set: true}
			return nil
		}
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*b = Bool{Value: parsed, Set: true}
			return nil
		}
	}
	return fmt.Errorf("invalid boolean %s", data)
}

// Answer builders.

func okAnswer() map[string]any {
	return map[string]any{"answer": map[string]any{"@status": "ok"}}
}

func failedAnswer(code ErrorCode, text string) map[string]any {
	return map[string]any{"answer": map[string]any{
		"@status":    "failed",
		"@errorCode": string(code),
		"@errorText": text,
	}}
}

func triggerAnswer(id uint64) map[string]any {
	return map[string]any{"triggerAnswer": map[string]any{
		"@status":    "ok",
		"@triggerId": id,
	}}
}

func failedTriggerAnswer(code ErrorCode, text string) map[string]any {
	return map[string]any{"triggerAnswer": map[string]any{
		"@status":    "failed",
		"@triggerId": 0,
		"@errorCode": string(code),
		"@errorText": text,
	}}
}
