package transfer_test

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/internal/transfer/transfertest"
)

type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// eventLog collects every event an uploader emits.
type eventLog struct {
	mu     sync.Mutex
	events []transfer.Event
}

func (l *eventLog) record(e transfer.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) chunks() []transfer.ChunkComplete {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []transfer.ChunkComplete
	for _, e := range l.events {
		if c, ok := e.(transfer.ChunkComplete); ok {
			out = append(out, c)
		}
	}
	return out
}

func (l *eventLog) errors() []transfer.UploadError {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []transfer.UploadError
	for _, e := range l.events {
		if c, ok := e.(transfer.UploadError); ok {
			out = append(out, c)
		}
	}
	return out
}

func (l *eventLog) completions() []transfer.UploadComplete {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []transfer.UploadComplete
	for _, e := range l.events {
		if c, ok := e.(transfer.UploadComplete); ok {
			out = append(out, c)
		}
	}
	return out
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

type harness struct {
	srv      *transfertest.Server
	uploader *transfer.Uploader
	clock    *fakeClock
	events   *eventLog
}

func newHarness(t *testing.T, mutate func(*transfer.Options)) *harness {
	t.Helper()
	srv := transfertest.New(t)
	clock := &fakeClock{}
	opts := transfer.Options{
		BaseURL:          srv.URL,
		ChunkSize:        16,
		WithChunkHashing: true,
		Clock:            clock,
		Logger:           quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	u, err := transfer.NewUploader(opts)
	require.NoError(t, err)

	events := &eventLog{}
	u.Subscribe(events.record)
	return &harness{srv: srv, uploader: u, clock: clock, events: events}
}

func (h *harness) download(t *testing.T, url string) []byte {
	t.Helper()
	dest := transfer.NewBufferDestination()
	d := transfer.NewDownloader(transfer.DownloadOptions{Logger: quietLogger()})
	_, err := d.Download(t.Context(), url, dest)
	require.NoError(t, err)
	return dest.Bytes()
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func bytesItem(t *testing.T, data []byte) *transfer.Item {
	t.Helper()
	item, err := transfer.NewBytesItem(data, "bin", "payload")
	require.NoError(t, err)
	return item
}
