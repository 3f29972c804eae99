package vm

import "fmt"

// ErrorKind classifies a returned failure.
type ErrorKind uint8

// Error kinds. Fatal invariant violations are not a kind: they panic.
const (
	KindResourceShortage ErrorKind = iota + 1
	KindInvalidArgument
	KindDenied
	KindUnsupported
	KindInsufficientBuffer
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindResourceShortage:
		return "resource shortage"
	case KindInvalidArgument:
		return "invalid argument"
	case KindDenied:
		return "denied"
	case KindUnsupported:
		return "unsupported on platform"
	case KindInsufficientBuffer:
		return "insufficient buffer size"
	case KindNotFound:
		return "not found"
	default:
		return fmt.Sprintf("unknown kind %d", uint8(k))
	}
}

// Error is the result code of a failed operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "pmap: " + e.msg()
	}

	return "pmap: " + e.Op + ": " + e.msg()
}

func (e *Error) msg() string {
	if e.Msg != "" {
		return e.Kind.String() + ": " + e.Msg
	}

	return e.Kind.String()
}

// Is matches any error of the same kind, so errors.Is(err,
// ErrResourceShortage) holds for every shortage regardless of the op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry after freeing resources.
func (e *Error) Retryable() bool {
	return e.Kind == KindResourceShortage
}

// Sentinels for errors.Is.
var (
	ErrResourceShortage   = &Error{Kind: KindResourceShortage}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrDenied             = &Error{Kind: KindDenied}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrInsufficientBuffer = &Error{Kind: KindInsufficientBuffer}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

// Errorf creates an error of the given kind.
func Errorf(kind ErrorKind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}
