package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrShortRead    = errors.New("short read")
	ErrShortWrite   = errors.New("short write")
	ErrConnLost     = errors.New("connection lost")
)

type ErrorKind uint8

const (
	ConnectionError ErrorKind = 0
	TrustError      ErrorKind = 1
	ListingError    ErrorKind = 2
	TransferError   ErrorKind = 3
)

var errorKindNames = []string{
	ConnectionError: "connection error",
	TrustError:      "trust error",
	ListingError:    "listing error",
	TransferError:   "transfer error",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "error"
}

// Error is how failures cross the worker boundary. It is carried as data in
// an Event and never contains credentials.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the ErrorKind carried by err, defaulting to ConnectionError.
func KindOf(err error) ErrorKind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return ConnectionError
}

func newError(kind ErrorKind, path string, err error) *Error {
	var terr *Error
	if errors.As(err, &terr) {
		if terr.Path == "" {
			terr.Path = path
		}
		return terr
	}
	return &Error{Kind: kind, Path: path, Err: err}
}
