package bridge

import (
	"errors"
	"syscall"
)

var ErrInstanceActive = errors.New("another bridge server is already running in this process")

// ConfigurationError means the bridge cannot start with the current workspace or settings.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type BindKind string

const (
	BindAddressInUse     BindKind = "address_in_use"
	BindPermissionDenied BindKind = "permission_denied"
	BindOther            BindKind = "other"
)

// BindError reports a failure to open the listening socket.
type BindError struct {
	Addr string
	Kind BindKind
	Err  error
}

func newBindError(addr string, err error) *BindError {
	kind := BindOther
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		kind = BindAddressInUse
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		kind = BindPermissionDenied
	}
	return &BindError{Addr: addr, Kind: kind, Err: err}
}

func (e *BindError) Error() string {
	return "bind " + e.Addr + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error { return e.Err }

// Hint is the user-facing diagnosis for the failure class.
func (e *BindError) Hint() string {
	switch e.Kind {
	case BindAddressInUse:
		return "Port is already in use. Try a different port in settings."
	case BindPermissionDenied:
		return "Permission denied on selected port. Try a port above 1024."
	default:
		return "Server error: " + e.Err.Error()
	}
}
