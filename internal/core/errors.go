package core

import (
	"errors"
	"fmt"
)

// Sentinels wrapped by every *Error so transports can branch with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrProtocol   = errors.New("protocol violation")
)

// ErrorKind classifies a rejected command.
type ErrorKind int

const (
	// KindValidation marks malformed or out-of-range input. State is unchanged.
	KindValidation ErrorKind = iota
	// KindProtocol marks a script transfer command that arrived out of order or
	// with the wrong size. The session has been reset.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by Core.Apply when a command is rejected. Message is the
// client-facing text, e.g. "Chunk overflow".
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	if e.Kind == KindProtocol {
		return ErrProtocol
	}
	return ErrValidation
}

func validationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func protocolErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}
