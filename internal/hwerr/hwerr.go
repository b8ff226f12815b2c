// Package hwerr defines the error kinds surfaced by the display pipeline.
// Package-specific errors wrap one of these so callers can classify with
// errors.Is without depending on the package that produced them.
package hwerr

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrResourceBusy       = errors.New("resource busy")
	ErrRejectedSecure     = errors.New("rejected: secure session active")
	ErrNotReady           = errors.New("not ready")
	ErrHardwareRejected   = errors.New("hardware rejected")
	ErrSeamlessNotAllowed = errors.New("seamless switch not allowed")
	ErrTerminal           = errors.New("display lost")
)

// Kind returns a short machine-readable name for err's kind, or "internal"
// when err does not wrap any known kind. Used by the IPC layer.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrResourceBusy):
		return "resource_busy"
	case errors.Is(err, ErrRejectedSecure):
		return "rejected_secure"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrHardwareRejected):
		return "hardware_rejected"
	case errors.Is(err, ErrSeamlessNotAllowed):
		return "seamless_not_allowed"
	case errors.Is(err, ErrTerminal):
		return "terminal"
	default:
		return "internal"
	}
}
