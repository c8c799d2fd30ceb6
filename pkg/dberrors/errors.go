package dberrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("bridge: not found")
	ErrClosed             = errors.New("bridge: closed")
	ErrInvalidHandle      = errors.New("bridge: invalid handle")
	ErrInvalidArgument    = errors.New("bridge: invalid argument")
	ErrStorageUnavailable = errors.New("bridge: storage unavailable")
	ErrDecode             = errors.New("bridge: decode error")
)

// NoOrdinal marks an Error that is not about a particular column.
const NoOrdinal = -1

// Error is a failure reported to the caller of a boundary operation.
// Kind is one of the sentinel errors above, so errors.Is(err, ErrInvalidHandle) works.
type Error struct {
	Kind    error
	Op      string
	Handle  uint64
	Ordinal int
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle=%d", e.Handle)
	}
	if e.Ordinal != NoOrdinal {
		fmt.Fprintf(&b, " ordinal=%d", e.Ordinal)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func InvalidHandle(op string, handle uint64) *Error {
	return &Error{Kind: ErrInvalidHandle, Op: op, Handle: handle, Ordinal: NoOrdinal}
}

func InvalidArgument(op string, handle uint64, ordinal int, format string, args ...any) *Error {
	return &Error{
		Kind:    ErrInvalidArgument,
		Op:      op,
		Handle:  handle,
		Ordinal: ordinal,
		Err:     fmt.Errorf(format, args...),
	}
}

func StorageUnavailable(op string, cause error) *Error {
	return &Error{Kind: ErrStorageUnavailable, Op: op, Ordinal: NoOrdinal, Err: cause}
}

func Decode(op string, handle uint64, ordinal int, cause error) *Error {
	return &Error{Kind: ErrDecode, Op: op, Handle: handle, Ordinal: ordinal, Err: cause}
}

// Wrap attaches op and handle context to err. If err already carries a kind it is kept,
// otherwise kind is used.
func Wrap(kind error, op string, handle uint64, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		out := *be
		if out.Op == "" {
			out.Op = op
		}
		if out.Handle == 0 {
			out.Handle = handle
		}
		return &out
	}
	for _, k := range []error{ErrInvalidHandle, ErrInvalidArgument, ErrStorageUnavailable, ErrDecode} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	return &Error{Kind: kind, Op: op, Handle: handle, Ordinal: NoOrdinal, Err: err}
}

// KindOf returns the sentinel kind of err, or nil when err is not a bridge error.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidHandle, ErrInvalidArgument, ErrStorageUnavailable, ErrDecode, ErrClosed, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
