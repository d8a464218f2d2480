package irc

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLong is returned once for every incoming line that exceeds the
	// configured maximum; framing resumes at the next terminator.
	ErrFrameTooLong = errors.New("line exceeds maximum length")

	ErrNotConnected  = errors.New("not connected")
	ErrNotRegistered = errors.New("not registered")

	ErrEmptyTarget   = errors.New("target is required")
	ErrEmptyText     = errors.New("message text is required")
	ErrInvalidChan   = errors.New("not a channel name")
	ErrBadCharacter  = errors.New("parameter contains CR, LF or NUL")
	ErrBadParameter  = errors.New("parameter must not be empty, contain spaces or start with ':'")
	ErrLineTooLong   = errors.New("encoded line exceeds maximum length")
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrReconnectExhausted is reported when the reconnect policy gives up.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ParseReason says why a line could not be parsed.
type ParseReason int

const (
	ReasonEmptyLine ParseReason = iota
	ReasonMissingCommand
	ReasonMalformedPrefix
	ReasonMalformedTags
)

func (r ParseReason) String() string {
	switch r {
	case ReasonEmptyLine:
		return "empty line"
	case ReasonMissingCommand:
		return "missing command"
	case ReasonMalformedPrefix:
		return "malformed prefix"
	case ReasonMalformedTags:
		return "malformed tags"
	}
	return "unknown"
}

// ParseError is returned by ParseMessage for lines that cannot become a Message.
type ParseError struct {
	Reason ParseReason
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse line: %s", e.Reason)
}

// InvalidIntentError rejects one outgoing command without touching the transport.
type InvalidIntentError struct {
	Command string
	Err     error
}

func (e *InvalidIntentError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("invalid command: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Command, e.Err)
}

func (e *InvalidIntentError) Unwrap() error {
	return e.Err
}

// TransportError ends the current connection. It is never fatal to the process.
type TransportError struct {
	Op     string
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s failed: %v", e.Op, e.Server, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func invalid(command string, err error) error {
	return &InvalidIntentError{Command: command, Err: err}
}
