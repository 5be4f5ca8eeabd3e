package tag

import "errors"

// StatusSuccess is the Status of every successful Response.
const StatusSuccess = "Success"

// Response is the uniform result of every tag operation. Exactly one of a
// successful value or a failure status is meaningful: Status is
// StatusSuccess when no fault occurred, otherwise it carries the fault
// message and Err the underlying error.
type Response[T any] struct {
	Key      string `json:"key"`
	Value    T      `json:"value,omitempty"`
	HasValue bool   `json:"-"`
	Status   string `json:"status"`
	Err      error  `json:"-"`
}

// OK builds a successful response carrying a value.
func OK[T any](key string, v T) Response[T] {
	return Response[T]{Key: key, Value: v, HasValue: true, Status: StatusSuccess}
}

// Done builds a successful response with no value, as returned by writes.
func Done[T any](key string) Response[T] {
	return Response[T]{Key: key, Status: StatusSuccess}
}

// Fail builds a failed response. Pre-I/O validation errors report their
// fixed sentinel text even when wrapped with detail; everything else
// reports the error text verbatim.
func Fail[T any](key string, err error) Response[T] {
	return Response[T]{Key: key, Status: statusOf(err), Err: err}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "Failure"
	case errors.Is(err, ErrWrongType):
		return ErrWrongType.Error()
	case errors.Is(err, ErrMismatchLength):
		return ErrMismatchLength.Error()
	case errors.Is(err, ErrInvalidArrayDim):
		return ErrInvalidArrayDim.Error()
	default:
		return err.Error()
	}
}

// Success reports whether the operation completed without a fault.
func (r Response[T]) Success() bool {
	return r.Status == StatusSuccess
}

// Kind classifies the failure, KindNone on success.
func (r Response[T]) Kind() ErrorKind {
	if r.Success() {
		return KindNone
	}
	if r.Err == nil {
		return KindChannelFault
	}
	return KindOf(r.Err)
}

// Map projects a response onto another value type, keeping key and status.
func Map[T, U any](r Response[T], f func(T) U) Response[U] {
	out := Response[U]{Key: r.Key, HasValue: r.HasValue, Status: r.Status, Err: r.Err}
	if r.HasValue {
		out.Value = f(r.Value)
	}
	return out
}
