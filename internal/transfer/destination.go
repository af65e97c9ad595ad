package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DestinationKind tags where downloaded bytes go.
type DestinationKind int

const (
	DestinationFile DestinationKind = iota
	DestinationStream
	DestinationBuffer
)

// Destination receives downloaded bytes. File destinations hold their
// handle open from construction until Close.
type Destination struct {
	kind DestinationKind
	path string
	file *os.File
	w    io.Writer
	buf  bytes.Buffer

	mu       sync.Mutex
	closed   bool
	closeErr error
}

// NewFileDestination creates (or truncates) path and keeps it open for writing.
func NewFileDestination(path string) (*Destination, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, invalidInput("file destination", err)
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, invalidInput("file destination", err)
		}
	}
	f, err := os.Create(abs)
	if err != nil {
		return nil, invalidInput("file destination", err)
	}
	return &Destination{kind: DestinationFile, path: abs, file: f}, nil
}

// NewStreamDestination writes into w and closes it on Close when w is an io.Closer.
func NewStreamDestination(w io.Writer) (*Destination, error) {
	if w == nil {
		return nil, invalidInput("stream destination", errors.New("the provided stream is not writable"))
	}
	return &Destination{kind: DestinationStream, w: w}, nil
}

// NewBufferDestination accumulates the download in memory.
func NewBufferDestination() *Destination {
	return &Destination{kind: DestinationBuffer}
}

func (d *Destination) Kind() DestinationKind { return d.kind }

func (d *Destination) Path() string { return d.path }

// Bytes returns the accumulated content of a buffer destination. It is never
// nil, even when nothing was written.
func (d *Destination) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf.Len() == 0 {
		return []byte{}
	}
	return d.buf.Bytes()
}

func (d *Destination) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, fmt.Errorf("write to closed destination: %w", ErrInvalidState)
	}
	switch d.kind {
	case DestinationFile:
		return d.file.Write(p)
	case DestinationStream:
		return d.w.Write(p)
	case DestinationBuffer:
		return d.buf.Write(p)
	default:
		return 0, invalidInput("write destination", fmt.Errorf("unknown destination kind %d", d.kind))
	}
}

// Close releases the destination. Only the first call does any work.
func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.closeErr
	}
	d.closed = true
	switch d.kind {
	case DestinationFile:
		d.closeErr = d.file.Close()
	case DestinationStream:
		if c, ok := d.w.(io.Closer); ok {
			d.closeErr = c.Close()
		}
	}
	return d.closeErr
}
