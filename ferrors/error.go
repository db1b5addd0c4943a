package ferrors

import "fmt"

// Error is the concrete error type returned across every subsystem boundary
// in this module. It always carries a Kind (see Kind.String for taxonomy)
// and a human-readable message, and may wrap a lower-level cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is / errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, allowing
// callers to write errors.Is(err, ferrors.New(ferrors.NotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error of the given Kind, formatting Message like
// fmt.Sprintf.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given Kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err, if err is (or wraps) an *Error, and ok=true.
// Otherwise it returns (Unexpected, false).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return Unexpected, false
}

// as is a tiny local stand-in for errors.As: it follows single Unwrap
// chains looking for an *Error.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors, one per Kind, following the common pattern of
// small error-constructor helpers grouped by category.

func NotFoundf(format string, args ...any) *Error       { return New(NotFound, format, args...) }
func InvalidArgf(format string, args ...any) *Error      { return New(InvalidArg, format, args...) }
func InvalidTypef(format string, args ...any) *Error     { return New(InvalidType, format, args...) }
func InvalidStatef(format string, args ...any) *Error    { return New(InvalidState, format, args...) }
func ResourceInUsef(format string, args ...any) *Error   { return New(ResourceInUse, format, args...) }
func NotInitialisedf(format string, args ...any) *Error  { return New(NotInitialised, format, args...) }
func Emptyf(format string, args ...any) *Error           { return New(Empty, format, args...) }
func DeviceIOf(format string, args ...any) *Error        { return New(DeviceIO, format, args...) }
func DeviceNotReadyf(format string, args ...any) *Error  { return New(DeviceNotReady, format, args...) }
func Unexpectedf(format string, args ...any) *Error      { return New(Unexpected, format, args...) }
