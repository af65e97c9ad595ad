package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle position of a Session. Sessions never move back.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateUploading
	StateFinalizing
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateUploading:
		return "uploading"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one server-side upload session. Its id is single-use.
type Session struct {
	ID               string
	Extension        string
	Name             string
	ChunkSize        int64
	WithChunkHashing bool

	client *Client
	mu     sync.Mutex
	state  State
}

// OpenSession asks the service for a new session. A name that already ends
// in ".<extension>" is trimmed.
func OpenSession(ctx context.Context, client *Client, extension, name string, chunkSize int64, withChunkHashing bool) (*Session, error) {
	if err := validateExtension(extension); err != nil {
		return nil, invalidInput("open session", err)
	}
	if chunkSize <= 0 {
		return nil, invalidInput("open session", errors.New("chunk size must be positive"))
	}
	name = sanitizeName(name, extension)

	id, err := client.CreateSession(ctx, extension, name)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:               id,
		Extension:        extension,
		Name:             name,
		ChunkSize:        chunkSize,
		WithChunkHashing: withChunkHashing,
		client:           client,
		state:            StateOpen,
	}, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(to State, from ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("session %s is %s, cannot move to %s: %w", s.ID, s.state, to, ErrInvalidState)
}

// UploadChunk makes a single attempt at sending data.
func (s *Session) UploadChunk(ctx context.Context, data []byte, digest string) error {
	if err := s.uploading(); err != nil {
		return err
	}
	return s.client.UploadChunk(ctx, s.ID, data, digest)
}

func (s *Session) uploading() error {
	return s.transition(StateUploading, StateOpen, StateUploading)
}

// Finalize redeems the session for a download locator. It is not retried;
// a failure leaves the session Failed.
func (s *Session) Finalize(ctx context.Context, digest string) (string, error) {
	if err := s.transition(StateFinalizing, StateOpen, StateUploading); err != nil {
		return "", err
	}
	locator, err := s.client.Finish(ctx, s.ID, digest)
	if err != nil {
		s.setState(StateFailed)
		return "", err
	}
	s.setState(StateCompleted)
	return locator, nil
}

// Cancel marks the session Cancelled and sends a release notice. The state
// change holds even when the notice fails.
func (s *Session) Cancel(ctx context.Context) error {
	if err := s.transition(StateCancelled, StateOpen, StateUploading); err != nil {
		return err
	}
	return s.client.Release(ctx, s.ID)
}

// fail moves a live session to Failed.
func (s *Session) fail() {
	_ = s.transition(StateFailed, StateOpen, StateUploading, StateFinalizing)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
