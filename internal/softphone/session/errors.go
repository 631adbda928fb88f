package session

import (
	"errors"

	"github.com/sebas/agentphone/internal/softphone/phone"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrNotReady indicates the device is not registered.
	ErrNotReady = errors.New("device not ready")

	// ErrNoActiveCall indicates no call is in a state the operation accepts.
	ErrNoActiveCall = errors.New("no active call")

	// ErrBusy indicates a call is already in progress.
	ErrBusy = errors.New("call already in progress")

	// ErrInvalidNumber indicates the dialed number failed validation.
	ErrInvalidNumber = phone.ErrInvalidNumber

	// ErrHoldUnsupported indicates the transport cannot place calls on hold.
	ErrHoldUnsupported = errors.New("hold not supported")

	// ErrInitialized indicates Init was called while the device is
	// registering or ready.
	ErrInitialized = errors.New("device already initialized")

	// ErrDestroyed indicates the coordinator has been torn down.
	ErrDestroyed = errors.New("coordinator destroyed")
)

// CredentialError reports a failed capability token fetch.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "credential: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// DeviceError reports a registration or transport-level failure.
type DeviceError struct {
	// Op is the stage that failed: create, register or transport.
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return "device " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
