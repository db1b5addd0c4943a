// Package ferrors implements a small error taxonomy: a closed set of Kind
// values, and an Error type that carries one of them plus a message and
// optional cause, in the style of a dedicated error-kind hierarchy (TypeError,
// RangeError, TimeoutError) rather than ad-hoc fmt.Errorf strings at API
// boundaries.
package ferrors

// Kind identifies the category of a failure.
type Kind int

const (
	// Unexpected is the zero Kind: an internal invariant violated, typically
	// from a catch of an unexpected RPC exception. It is the zero value so
	// that an unset Kind still carries a meaningful classification.
	Unexpected Kind = iota
	// NotFound: unknown signal, clock, scheduler, job, or service.
	NotFound
	// InvalidArg: duplicate name, malformed URL, empty required field.
	InvalidArg
	// InvalidType: signal re-registered with a differing stream type.
	InvalidType
	// InvalidState: operation attempted in the wrong lifecycle phase.
	InvalidState
	// ResourceInUse: duplicate registration of a clock/scheduler/job name.
	ResourceInUse
	// NotInitialised: reader/writer operations attempted before bus binding.
	NotInitialised
	// Empty: queue has no items.
	Empty
	// DeviceIO: the bus/transport reported an I/O failure.
	DeviceIO
	// DeviceNotReady: the bus/transport is not connected.
	DeviceNotReady
)

// String renders a human-readable name for the Kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidArg:
		return "invalid_arg"
	case InvalidType:
		return "invalid_type"
	case InvalidState:
		return "invalid_state"
	case ResourceInUse:
		return "resource_in_use"
	case NotInitialised:
		return "not_initialised"
	case Empty:
		return "empty"
	case DeviceIO:
		return "device_io"
	case DeviceNotReady:
		return "device_not_ready"
	default:
		return "unexpected"
	}
}

// Code maps a Kind to the integer result code used at the RPC boundary
// (0 = success, else failure). The specific non-zero values are this
// module's own assignment; only 0 meaning success is load-bearing.
func (k Kind) Code() int {
	if k == Unexpected {
		return 1
	}
	return int(k) + 1
}
