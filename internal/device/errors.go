package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrLocked) {
//	    // report DeviceLocked to the client
//	}
var (
	// ErrLocked is returned when a lock-gated mutation runs while the device is locked.
	ErrLocked = errors.New("device: locked")

	// ErrInvalidCredential is returned when a lock password does not match.
	ErrInvalidCredential = errors.New("device: invalid credential")

	// ErrConfigForbidden is returned by setConfig after forbidSetConfig.
	ErrConfigForbidden = errors.New("device: configuration changes forbidden")

	// ErrInvalidConfig is returned when an interpreted configuration value is malformed.
	ErrInvalidConfig = errors.New("device: invalid configuration")

	// ErrInvalidSettings is returned when simulation settings fail validation.
	ErrInvalidSettings = errors.New("device: invalid simulation settings")

	// ErrNoRecognition is returned when no recognition is available to report.
	ErrNoRecognition = errors.New("device: no current recognition")
)
