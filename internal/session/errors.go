package session

import (
	"errors"
	"fmt"
)

// Reason distinguishes failures that all surface as StatusError.
type Reason string

const (
	ReasonCaptureDenied   Reason = "capture-denied"
	ReasonChannelFailed   Reason = "channel-failed"
	ReasonTransportError  Reason = "transport-error"
	ReasonInvalidIdentity Reason = "invalid-identity"
)

var (
	ErrRoleConflict   = errors.New("session: endpoint already has the other role")
	ErrAlreadyStarted = errors.New("session: handshake already started")
	ErrClosed         = errors.New("session: handshake closed")
	ErrNoStream       = errors.New("session: no capture stream")
	ErrEmptyIdentity  = errors.New("session: empty remote identity")
)

// Error is the tagged failure behind a StatusError.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf returns the tagged reason of err, or "" if it carries none.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}
