package cable

import (
	"errors"
	"fmt"
)

// Kind classifies cable and protocol failures. Kinds are errors themselves,
// so callers can test for them with errors.Is.
type Kind uint8

const (
	KindUnknown Kind = iota
	TransportOpenFailure
	TransportTimeout
	TransportIOFailure
	ProtocolStateError
	AllocationFailure
	ConfigurationError
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown failure",
	TransportOpenFailure: "transport open failure",
	TransportTimeout:     "transport timeout",
	TransportIOFailure:   "transport I/O failure",
	ProtocolStateError:   "protocol state error",
	AllocationFailure:    "allocation failure",
	ConfigurationError:   "configuration error",
}

func (k Kind) Error() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) String() string {
	return k.Error()
}

// Error carries the kind of a failure together with the operation and driver
// that produced it. For transfers that stopped part way, Completed holds the
// number of bits that were confirmed on the wire.
type Error struct {
	Kind      Kind
	Op        string
	Driver    string
	Completed int
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := "cable"
	if e.Driver != "" {
		msg += " " + e.Driver
	}
	if e.Op != "" {
		msg += ": " + e.Op
	}
	detail := e.Msg
	if detail == "" {
		detail = e.Kind.Error()
	}
	msg += ": " + detail
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches both the error's Kind and another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindUnknown
}

// CompletedBits returns how many bits a failed transfer reported as done.
func CompletedBits(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Completed
	}
	return 0
}

// withCompleted tags err with a completed-bit count, preserving its kind.
func withCompleted(op, driver string, completed int, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		cp := *ce
		cp.Completed = completed
		if cp.Op == "" {
			cp.Op = op
		}
		if cp.Driver == "" {
			cp.Driver = driver
		}
		return &cp
	}
	return &Error{Kind: TransportIOFailure, Op: op, Driver: driver, Completed: completed, Err: err}
}
