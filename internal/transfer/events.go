package transfer

import "sync"

// Event is one of SessionCreated, ChunkComplete, UploadComplete or UploadError.
type Event interface {
	transferID() string
}

// SessionCreated fires once the service has assigned a session id.
type SessionCreated struct {
	TransferID string
	SessionID  string
	Name       string
	Size       int64 // -1 when the content length is not known upfront
}

// ChunkComplete fires once per chunk, after its successful transfer.
type ChunkComplete struct {
	TransferID  string
	SessionID   string
	ChunkDigest string // empty when chunk hashing is off
	Index       int    // 1-based
	Total       int
	Bytes       int64
}

// UploadComplete fires after the session was finalized.
type UploadComplete struct {
	TransferID string
	SessionID  string
	Path       string // source file, empty for non-file items
	URL        string
	Digest     string
}

// UploadError fires for every failed chunk attempt and for the failure
// that ends an upload (Fatal).
type UploadError struct {
	TransferID string
	SessionID  string
	Index      int
	Attempt    int
	Fatal      bool
	Err        error
	Envelope   *ErrorEnvelope
}

func (e SessionCreated) transferID() string { return e.TransferID }
func (e ChunkComplete) transferID() string  { return e.TransferID }
func (e UploadComplete) transferID() string { return e.TransferID }
func (e UploadError) transferID() string    { return e.TransferID }

// TransferIDOf returns the client-side transfer id an event belongs to.
func TransferIDOf(e Event) string { return e.transferID() }

type Listener func(Event)

// EventChannel fans events out to subscribers synchronously, in
// subscription order.
type EventChannel struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id int
	fn Listener
}

// Subscribe registers l and returns a function that removes it.
func (c *EventChannel) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, subscription{id: id, fn: l})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.listeners {
			if s.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *EventChannel) emit(e Event) {
	c.mu.RLock()
	listeners := make([]subscription, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, s := range listeners {
		s.fn(e)
	}
}
