package ble

import (
	"errors"
	"fmt"
)

// Kind classifies why a provisioning attempt did not succeed.
type Kind string

const (
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindScanTimeout      Kind = "SCAN_TIMEOUT"
	KindConnectionFailed Kind = "CONNECTION_FAILED"
	KindDiscoveryFailed  Kind = "DISCOVERY_FAILED"
	KindDeviceReported   Kind = "DEVICE_REPORTED_FAILURE"
	KindNotifyTimeout    Kind = "NOTIFY_TIMEOUT"
	KindPollTimeout      Kind = "POLL_TIMEOUT"
)

// Error is a typed radio failure. Match kinds with errors.Is against the
// Err* sentinels or with KindOf.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrScanTimeout      = &Error{Kind: KindScanTimeout}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed}
	ErrDiscoveryFailed  = &Error{Kind: KindDiscoveryFailed}
)

// Request validation errors.
var (
	ErrEmptySSID = errors.New("ssid is required")
	ErrEmptyCode = errors.New("device code is required")
)

// KindOf extracts the failure kind of err, or "" when err is not a radio error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
