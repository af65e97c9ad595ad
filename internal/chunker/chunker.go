package chunker

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrNegativeLength   = errors.New("content length must not be negative")
)

// Descriptor is the byte range of one chunk within the content.
type Descriptor struct {
	Index  int
	Offset int64
	Length int64
}

// Count returns ceil(total/chunkSize).
func Count(total, chunkSize int64) int {
	if total <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((total + chunkSize - 1) / chunkSize)
}

// Plan splits total bytes into chunkSize ranges. Only the last chunk may be
// shorter, and empty content yields no chunks at all.
func Plan(total, chunkSize int64) ([]Descriptor, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if total < 0 {
		return nil, ErrNegativeLength
	}

	count := Count(total, chunkSize)
	plan := make([]Descriptor, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		plan = append(plan, Descriptor{
			Index:  i,
			Offset: offset,
			Length: min(chunkSize, total-offset),
		})
	}
	return plan, nil
}

// ReadChunk reads exactly d.Length bytes from r, looping over short reads.
// r must be positioned at d.Offset.
func ReadChunk(r io.Reader, d Descriptor) ([]byte, error) {
	buf := make([]byte, d.Length)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read chunk %d (%d/%d bytes): %w", d.Index, n, d.Length, err)
	}
	return buf, nil
}

// SizeFor picks a chunk size from the content length when none is configured.
func SizeFor(fileSize int64) int64 {
	switch {
	case fileSize <= 1*1024*1024:
		return 256 * 1024
	case fileSize <= 10*1024*1024:
		return 512 * 1024
	case fileSize <= 100*1024*1024:
		return 1 * 1024 * 1024
	case fileSize <= 1024*1024*1024:
		return 4 * 1024 * 1024
	default:
		return 8 * 1024 * 1024
	}
}
