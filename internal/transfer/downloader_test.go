package transfer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkload/internal/transfer"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(body io.Reader, length int64) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Header:        make(http.Header),
			Body:          io.NopCloser(body),
			ContentLength: length,
			Request:       r,
		}, nil
	})}
}

type closeCounter struct {
	bytes.Buffer
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func collectProgress(d *transfer.Downloader) *[]transfer.DownloadProgress {
	var reports []transfer.DownloadProgress
	d.OnProgress(func(p transfer.DownloadProgress) { reports = append(reports, p) })
	return &reports
}

func TestDownloadWithoutContentLength(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.uploader.Upload(t.Context(), bytesItem(t, []byte("abc")))
	require.NoError(t, err)
	h.srv.OmitContentLength()

	d := transfer.NewDownloader(transfer.DownloadOptions{Logger: quietLogger()})
	reports := collectProgress(d)
	dest := transfer.NewBufferDestination()

	n, err := d.Download(t.Context(), res.URL, dest)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, []byte("abc"), dest.Bytes())

	require.Len(t, *reports, 1)
	last := (*reports)[0]
	assert.True(t, last.Done)
	assert.EqualValues(t, 3, last.BytesRead)
	assert.Nil(t, last.TotalBytes)
	assert.Nil(t, last.Percent)
}

func TestDownloadReportsEveryHundredReads(t *testing.T) {
	body := iotest.OneByteReader(bytes.NewReader(make([]byte, 250)))
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: stubClient(body, 250), Logger: quietLogger()})
	reports := collectProgress(d)

	_, err := d.Download(t.Context(), "http://files.invalid/d/abc", transfer.NewBufferDestination())
	require.NoError(t, err)

	require.Len(t, *reports, 3)
	var read []int64
	var pct []float64
	for _, p := range *reports {
		read = append(read, p.BytesRead)
		require.NotNil(t, p.Percent)
		pct = append(pct, *p.Percent)
		require.NotNil(t, p.TotalBytes)
		assert.EqualValues(t, 250, *p.TotalBytes)
	}
	assert.Equal(t, []int64{100, 200, 250}, read)
	assert.Equal(t, []float64{40, 80, 100}, pct)
	assert.False(t, (*reports)[0].Done)
	assert.True(t, (*reports)[2].Done)
}

func TestDownloadPercentRounding(t *testing.T) {
	body := iotest.OneByteReader(bytes.NewReader(make([]byte, 100)))
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: stubClient(body, 300), ProgressEvery: 1, Logger: quietLogger()})
	reports := collectProgress(d)

	_, err := d.Download(t.Context(), "http://files.invalid/d/abc", transfer.NewBufferDestination())
	require.NoError(t, err)
	assert.Equal(t, 0.33, *(*reports)[0].Percent)
	assert.Equal(t, 0.67, *(*reports)[1].Percent)
}

func TestDownloadEmbedURLIsNormalized(t *testing.T) {
	var requested string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requested = r.URL.Path
		return &http.Response{StatusCode: 200, Header: make(http.Header), Body: io.NopCloser(strings.NewReader("x")), ContentLength: 1, Request: r}, nil
	})}
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: client, Logger: quietLogger()})

	_, err := d.Download(t.Context(), "http://files.invalid/e/abc", transfer.NewBufferDestination())
	require.NoError(t, err)
	assert.Equal(t, "/d/abc", requested)
}

func TestDownloadNotFoundClosesFile(t *testing.T) {
	h := newHarness(t, nil)
	dest, err := transfer.NewFileDestination(filepath.Join(t.TempDir(), "out", "missing.bin"))
	require.NoError(t, err)

	d := transfer.NewDownloader(transfer.DownloadOptions{Logger: quietLogger()})
	_, err = d.Download(t.Context(), h.srv.URL+"/d/0000", dest)
	require.ErrorIs(t, err, transfer.ErrDownload)

	var te *transfer.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
	require.NotNil(t, te.Envelope)
	assert.Equal(t, "NOT_FOUND", te.Envelope.Generic)

	_, err = dest.Write([]byte("late"))
	assert.ErrorIs(t, err, transfer.ErrInvalidState)
}

func TestDownloadTransportFailureClosesStream(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: client, Logger: quietLogger()})

	w := &closeCounter{}
	dest, err := transfer.NewStreamDestination(w)
	require.NoError(t, err)

	_, err = d.Download(t.Context(), "http://files.invalid/d/abc", dest)
	require.ErrorIs(t, err, transfer.ErrDownload)
	assert.Equal(t, 1, w.closes)

	require.NoError(t, dest.Close())
	assert.Equal(t, 1, w.closes)
}

func TestDownloadBrokenBodyClosesStream(t *testing.T) {
	body := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("reset by peer")))
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: stubClient(body, -1), Logger: quietLogger()})

	w := &closeCounter{}
	dest, err := transfer.NewStreamDestination(w)
	require.NoError(t, err)

	n, err := d.Download(t.Context(), "http://files.invalid/d/abc", dest)
	require.ErrorIs(t, err, transfer.ErrDownload)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, "partial", w.String())
	assert.Equal(t, 1, w.closes)
}

func TestDownloadCancelled(t *testing.T) {
	d := transfer.NewDownloader(transfer.DownloadOptions{HTTPClient: stubClient(strings.NewReader("abc"), 3), Logger: quietLogger()})
	dest := transfer.NewBufferDestination()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := d.Download(ctx, "http://files.invalid/d/abc", dest)
	require.ErrorIs(t, err, transfer.ErrCancelled)
	assert.Empty(t, dest.Bytes())
}

func TestDownloadToFile(t *testing.T) {
	h := newHarness(t, nil)
	content := randomBytes(t, 20000)
	res, err := h.uploader.Upload(t.Context(), bytesItem(t, content))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "copy.bin")
	dest, err := transfer.NewFileDestination(path)
	require.NoError(t, err)

	done := transfer.NewDownloader(transfer.DownloadOptions{Logger: quietLogger()}).DownloadAsync(t.Context(), res.URL, dest)
	require.NoError(t, <-done)

	item, err := transfer.NewFileItem(path)
	require.NoError(t, err)
	rc, size, err := item.Open()
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
	assert.Equal(t, content, got)
}

func TestNewStreamDestinationRejectsNil(t *testing.T) {
	_, err := transfer.NewStreamDestination(nil)
	assert.ErrorIs(t, err, transfer.ErrInvalidInput)
}
