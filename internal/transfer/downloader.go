package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkload/pkg/logging"
)

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	BufferSize    int
	ProgressEvery int // reads between progress reports
	HTTPClient    *http.Client
	Logger        logrus.FieldLogger
}

// DownloadProgress is reported every ProgressEvery reads and once at the end.
// TotalBytes and Percent are nil when the server sent no Content-Length.
type DownloadProgress struct {
	TransferID string
	URL        string
	TotalBytes *int64
	BytesRead  int64
	Percent    *float64
	Done       bool
}

type ProgressFunc func(DownloadProgress)

// Downloader streams remote content into a Destination.
type Downloader struct {
	opts DownloadOptions
	log  logrus.FieldLogger

	mu        sync.RWMutex
	listeners []ProgressFunc
}

func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultDownloadBuffer
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &Downloader{opts: opts, log: opts.Logger}
}

// OnProgress registers fn for progress reports of every download.
func (d *Downloader) OnProgress(fn ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Downloader) report(p DownloadProgress) {
	d.mu.RLock()
	listeners := make([]ProgressFunc, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, fn := range listeners {
		fn(p)
	}
}

// Download fetches rawURL into dest and returns the number of bytes written.
// dest is closed exactly once before Download returns, whatever the outcome.
// Cancellation is checked between reads.
func (d *Downloader) Download(ctx context.Context, rawURL string, dest *Destination) (n int64, err error) {
	if dest == nil {
		return 0, invalidInput("download", errors.New("destination is nil"))
	}
	defer func() {
		if cerr := dest.Close(); cerr != nil && err == nil {
			err = &Error{Op: "close destination", Kind: ErrDownload, Err: cerr}
		}
	}()

	target := NormalizeDownloadURL(rawURL)
	transferID := uuid.NewString()
	log := d.log.WithFields(logrus.Fields{"transfer_id": transferID, "url": target})

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, target, nil)
	if err != nil {
		return 0, invalidInput("download", err)
	}
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		log.WithError(err).Error("download request failed")
		return 0, &Error{Op: "download", Kind: ErrDownload, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
		err := &Error{Op: "download", Kind: ErrDownload, Status: resp.StatusCode, Envelope: ParseErrorEnvelope(raw), Err: errors.New(resp.Status)}
		log.WithError(err).Error("download rejected")
		return 0, err
	}

	var total *int64
	if resp.ContentLength >= 0 {
		length := resp.ContentLength
		total = &length
	}
	log.WithField("content_length", resp.ContentLength).Info("download started")

	buf := make([]byte, d.opts.BufferSize)
	reads := 0
	for {
		if ctx.Err() != nil {
			log.WithField("bytes", n).Info("download cancelled")
			return n, &Error{Op: "download", Kind: ErrCancelled, Err: ctx.Err()}
		}

		read, rerr := resp.Body.Read(buf)
		if read > 0 {
			if _, werr := dest.Write(buf[:read]); werr != nil {
				return n, &Error{Op: "write destination", Kind: ErrDownload, Err: werr}
			}
			n += int64(read)
			reads++
			if reads%d.opts.ProgressEvery == 0 {
				d.report(progressOf(transferID, target, total, n, false))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			log.WithError(rerr).Error("download stream failed")
			return n, &Error{Op: "read body", Kind: ErrDownload, Err: rerr}
		}
	}

	d.report(progressOf(transferID, target, total, n, true))
	log.WithField("bytes", n).Info("download complete")
	return n, nil
}

// DownloadAsync runs Download on its own goroutine. The channel receives
// exactly one error, nil on success.
func (d *Downloader) DownloadAsync(ctx context.Context, rawURL string, dest *Destination) <-chan error {
	ch := make(chan error, 1)
	go func() {
		_, err := d.Download(ctx, rawURL, dest)
		ch <- err
	}()
	return ch
}

func progressOf(transferID, url string, total *int64, read int64, done bool) DownloadProgress {
	p := DownloadProgress{TransferID: transferID, URL: url, TotalBytes: total, BytesRead: read, Done: done}
	if total != nil {
		pct := 100.0
		if *total > 0 {
			pct = math.Round(float64(read)/float64(*total)*10000) / 100
		}
		p.Percent = &pct
	}
	return p
}

func (p DownloadProgress) String() string {
	if p.Percent == nil {
		return fmt.Sprintf("%s downloaded", FormatBytes(p.BytesRead))
	}
	return fmt.Sprintf("%s / %s (%.2f%%)", FormatBytes(p.BytesRead), FormatBytes(*p.TotalBytes), *p.Percent)
}
