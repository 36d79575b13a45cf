package errcode

import (
	"errors"
	"fmt"
)

// Code identifies a wallet error class. Callers branch on codes structurally
// via Has/CodeOf, never on message text.
type Code string

const (
	NotInitialized     Code = "NotInitialized"
	AlreadyInitialized Code = "AlreadyInitialized"
	WalletLocked       Code = "WalletLocked"
	IncorrectPassword  Code = "IncorrectPassword"
	Corrupted          Code = "Corrupted"
	InvalidKey         Code = "InvalidKey"
	DuplicateAccount   Code = "DuplicateAccount"
	IndexOutOfRange    Code = "IndexOutOfRange"
	RequestNotFound    Code = "RequestNotFound"
	UserRejected       Code = "UserRejected"
	UnsupportedChain   Code = "UnsupportedChain"
	InvalidChainConfig Code = "InvalidChainConfig"
)

// Error carries a wallet error code alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, errcode.New(errcode.WalletLocked, "...")) matches regardless
// of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates an error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf creates an error with the given code and formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Has reports whether err carries the given code anywhere in its chain.
func Has(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the code carried by err, or "" when err has none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
