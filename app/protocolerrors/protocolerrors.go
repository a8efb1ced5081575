package protocolerrors

import (
	"github.com/pkg/errors"
)

// Kind classifies a ProtocolError.
type Kind int

// Error kinds. Parse, format, timeout and transport errors are turned into
// response objects where they occur; observer failures are only logged.
const (
	ParseError Kind = iota
	PolicyRejection
	FormatError
	Timeout
	TransportFailure
	SignatureInvalid
	NoSignatures
	ObserverFailure
	UnsupportedOperation
)

var kindToString = map[Kind]string{
	ParseError:           "ParseError",
	PolicyRejection:      "PolicyRejection",
	FormatError:          "FormatError",
	Timeout:              "Timeout",
	TransportFailure:     "TransportFailure",
	SignatureInvalid:     "SignatureInvalid",
	NoSignatures:         "NoSignatures",
	ObserverFailure:      "ObserverFailure",
	UnsupportedOperation: "UnsupportedOperation",
}

func (k Kind) String() string {
	text, ok := kindToString[k]
	if !ok {
		return "UnknownKind"
	}
	return text
}

// ProtocolError is an error with a Kind.
type ProtocolError struct {
	Kind  Kind
	Cause error
}

func (e *ProtocolError) Error() string {
	return e.Cause.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Errorf formats according to a format specifier and returns the string
// as a ProtocolError of the given kind.
// Errorf also records the stack trace at the point it was called.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &ProtocolError{
		Kind:  kind,
		Cause: errors.Errorf(format, args...),
	}
}

// New returns a ProtocolError of the given kind with the supplied message.
// New also records the stack trace at the point it was called.
func New(kind Kind, message string) error {
	return &ProtocolError{
		Kind:  kind,
		Cause: errors.New(message),
	}
}

// Wrap returns a ProtocolError of the given kind annotating err with a
// stack trace at the point Wrap is called, and the supplied message.
func Wrap(kind Kind, err error, message string) error {
	return &ProtocolError{
		Kind:  kind,
		Cause: errors.Wrap(err, message),
	}
}

// Wrapf returns a ProtocolError of the given kind annotating err with a
// stack trace at the point Wrapf is called, and the format specifier.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	return &ProtocolError{
		Kind:  kind,
		Cause: errors.Wrapf(err, format, args...),
	}
}

// KindOf returns the kind of the outermost ProtocolError in err's chain.
func KindOf(err error) (Kind, bool) {
	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		return 0, false
	}
	return protocolErr.Kind, true
}

// Is reports whether err's chain contains a ProtocolError of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var protocolErr *ProtocolError
		if !errors.As(err, &protocolErr) {
			return false
		}
		if protocolErr.Kind == kind {
			return true
		}
		err = protocolErr.Cause
	}
	return false
}
