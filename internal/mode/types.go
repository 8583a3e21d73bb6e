// Package mode implements the guarded paper/live trading mode controller:
// confirmation gating, anti-forgery token binding, single-flight request
// discipline and audit recording.
package mode

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the trading session mode. The remote service is the single source
// of truth; any locally cached copy is advisory only.
type Mode string

const (
	Paper Mode = "paper"
	Live  Mode = "live"
)

// Valid reports whether the mode is one of the two known modes.
func (m Mode) Valid() bool {
	return m == Paper || m == Live
}

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown trading mode %q", s)
	}
	return m, nil
}

// Status is the remote service's view of the current trading mode.
type Status struct {
	Mode      Mode      `json:"mode"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Mode change error taxonomy. None of these are retried automatically: a
// silent retry after rejection of a privileged action is itself a risk.
var (
	// ErrChangePending rejects a second request while one is in flight.
	ErrChangePending = errors.New("a mode change is already in flight")

	// ErrTokenUnavailable marks a failed anti-forgery token fetch.
	ErrTokenUnavailable = errors.New("anti-forgery token unavailable")

	// ErrModeUnavailable marks a failed current-mode fetch.
	ErrModeUnavailable = errors.New("current trading mode unavailable")
)

// ConfirmationError is a gate denial; Reason distinguishes a bad
// confirmation phrase from a bad or missing token.
type ConfirmationError struct {
	Reason string
}

func (e *ConfirmationError) Error() string {
	return "mode change rejected: " + e.Reason
}

// RemoteError carries the remote service's rejection detail verbatim.
type RemoteError struct {
	Detail string
}

func (e *RemoteError) Error() string {
	return "mode change refused by remote service: " + e.Detail
}
