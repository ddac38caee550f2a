// Package transport defines the boundary to the broadcast radio. The mesh
// engine only needs three things from it: a way to emit one advertisement,
// a callback per observed advertisement, and an honest power state.
package transport

import "errors"

// PowerState mirrors the CoreBluetooth-style adapter state machine the
// platform bindings report
type PowerState int

const (
	StateUnknown PowerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

// Distinct error per unavailable state so callers can branch on
// recoverability instead of matching a generic failure.
var (
	ErrStateUnknown = errors.New("transport: adapter state unknown")
	ErrResetting    = errors.New("transport: adapter resetting")
	ErrUnsupported  = errors.New("transport: radio unsupported on this device")
	ErrUnauthorized = errors.New("transport: not authorized to use the radio")
	ErrPoweredOff   = errors.New("transport: radio powered off")
)

// String returns the state name used by the platform bindings
func (s PowerState) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Err maps an unavailable state to its distinct error, nil when powered on
func (s PowerState) Err() error {
	switch s {
	case StatePoweredOn:
		return nil
	case StateResetting:
		return ErrResetting
	case StateUnsupported:
		return ErrUnsupported
	case StateUnauthorized:
		return ErrUnauthorized
	case StatePoweredOff:
		return ErrPoweredOff
	default:
		return ErrStateUnknown
	}
}

// Transport is the broadcast medium the node runs on. Implementations
// invoke the receive callback once per observed advertisement, from any
// goroutine; the node serializes processing internally.
type Transport interface {
	// Start brings the transport up. Fails with the state's distinct
	// error when the radio is not powered on.
	Start() error

	// Stop tears the transport down. Idempotent.
	Stop()

	// Transmit emits one advertisement frame
	Transmit(raw []byte) error

	// SetReceiveCallback registers the per-advertisement callback.
	// Must be called before Start.
	SetReceiveCallback(fn func(raw []byte))

	// State reports the current adapter power state
	State() PowerState
}
