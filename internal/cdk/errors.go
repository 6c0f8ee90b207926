package cdk

import (
	"errors"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
)

// Dispatcher errors.
var (
	// ErrUnknownCommand is returned for a command name outside the vocabulary.
	ErrUnknownCommand = errors.New("cdk: unknown command")

	// ErrMalformedPayload is returned when a request or payload does not have
	// the expected shape.
	ErrMalformedPayload = errors.New("cdk: malformed payload")
)

// ErrorCode is the machine-readable failure category carried in @errorCode.
type ErrorCode string

// Failure categories.
const (
	CodeUnknownCommand    ErrorCode = "unknownCommand"
	CodeMalformedPayload  ErrorCode = "malformedPayload"
	CodeDeviceLocked      ErrorCode = "deviceLocked"
	CodeNoActiveSession   ErrorCode = "noActiveSession"
	CodeInvalidCredential ErrorCode = "invalidCredential"
	CodeInternalFault     ErrorCode = "internalFault"
	CodeConfigForbidden   ErrorCode = "configForbidden"
	CodeNoRecognition     ErrorCode = "noRecognition"
)

// classify maps a handler error to its failure category and the text shown
// to the client.
func classify(err error) (ErrorCode, string) {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand, "Unknown command"
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, device.ErrInvalidConfig),
		errors.Is(err, device.ErrInvalidSettings),
		errors.Is(err, trigger.ErrInvalidTimeout):
		return CodeMalformedPayload, err.Error()
	case errors.Is(err, device.ErrLocked):
		return CodeDeviceLocked, "Device is locked"
	case errors.Is(err, trigger.ErrNoActiveSession):
		return CodeNoActiveSession, "No active trigger session"
	case errors.Is(err, device.ErrInvalidCredential):
		return CodeInvalidCredential, "Invalid password"
	case errors.Is(err, device.ErrConfigForbidden):
		return CodeConfigForbidden, "Configuration changes are not allowed"
	case errors.Is(err, device.ErrNoRecognition):
		return CodeNoRecognition, "No current recognition"
	default:
		return CodeInternalFault, "Internal fault"
	}
}
