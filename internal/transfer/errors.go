package transfer

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error unwraps to exactly one of these.
var (
	ErrSessionCreate = errors.New("could not create upload session")
	ErrChunkTransfer = errors.New("could not upload chunk")
	ErrFinalize      = errors.New("failed to finish upload")
	ErrRelease       = errors.New("failed to release upload session")
	ErrDownload      = errors.New("could not download")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid session state")
	ErrCancelled     = errors.New("transfer cancelled")
)

// Error describes a failed protocol operation together with whatever the
// service reported about it.
type Error struct {
	Op       string
	Kind     error
	Status   int
	Envelope *ErrorEnvelope
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Envelope != nil {
		msg += ": " + e.Envelope.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// EnvelopeOf returns the server error envelope carried by err, if any.
func EnvelopeOf(err error) *ErrorEnvelope {
	var te *Error
	if errors.As(err, &te) {
		return te.Envelope
	}
	return nil
}

func invalidInput(op string, err error) error {
	return &Error{Op: op, Kind: ErrInvalidInput, Err: err}
}
