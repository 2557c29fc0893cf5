package pkg

import (
	"errors"
	"fmt"
)

// Kind classifies why opening or extracting failed.
type Kind int

const (
	// UnrecognizedFormat means the input is not one of the supported
	// containers. Callers probing many files should try another parser.
	UnrecognizedFormat Kind = iota + 1
	MalformedHeader
	MalformedTable
	OutOfBoundsReference
	// UnsupportedSubVariant is a valid combination of flags this reader
	// does not decode, e.g. a compressed entry that is not blocked.
	UnsupportedSubVariant
	CryptoFailure
	// IncompleteRead means the source returned fewer bytes than requested.
	IncompleteRead
)

var kindNames = map[Kind]string{
	UnrecognizedFormat:    "unrecognized format",
	MalformedHeader:       "malformed header",
	MalformedTable:        "malformed table",
	OutOfBoundsReference:  "out of bounds reference",
	UnsupportedSubVariant: "unsupported sub-variant",
	CryptoFailure:         "crypto failure",
	IncompleteRead:        "incomplete read",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return "pkg: " + k.String()
}

// ErrClosed is returned by every Package method after Close.
var ErrClosed = errors.New("pkg: package is closed")

// Error is the error type returned by Open and by extraction.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "pkg: " + e.Op + ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target, so errors.Is(err, pkg.MalformedTable) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// KindOf returns the Kind carried by err, or 0 when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var k Kind
	if errors.As(err, &k) {
		return k
	}

	return 0
}

func newError(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrapError(kind Kind, op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
