// Package compressor wraps lz4 frame compression around upload and download
// streams.
package compressor

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Extension is appended to the extension of compressed uploads.
const Extension = "lz4"

var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".lz4": true,
	".mp3": true, ".flac": true, ".aac": true,
	".apk": true, ".iso": true,
}

// ShouldSkipCompression reports whether filePath already holds compressed data.
func ShouldSkipCompression(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return skipExtensions[ext]
}

// NewWriter returns a writer that lz4-compresses into w. Close flushes the
// frame but does not close w.
func NewWriter(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

// NewReader decompresses an lz4 frame read from r.
func NewReader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}

// decompressWriter feeds written bytes through an lz4 reader running on its
// own goroutine.
type decompressWriter struct {
	pw   *io.PipeWriter
	done chan error
}

// NewDecompressWriter returns a writer that decompresses everything written
// to it into w. Close waits for the decoder and reports its error.
func NewDecompressWriter(w io.Writer) io.WriteCloser {
	pr, pw := io.Pipe()
	d := &decompressWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := io.Copy(w, lz4.NewReader(pr))
		if err != nil {
			err = fmt.Errorf("decompression failed: %w", err)
		}
		pr.CloseWithError(err)
		d.done <- err
	}()
	return d
}

func (d *decompressWriter) Write(p []byte) (int, error) {
	return d.pw.Write(p)
}

func (d *decompressWriter) Close() error {
	d.pw.Close()
	return <-d.done
}
