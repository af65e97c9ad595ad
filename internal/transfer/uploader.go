package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkload/internal/chunker"
	"github.com/jaywantadh/chunkload/internal/hasher"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

// Options configures an Uploader. It is copied at construction and never
// changes afterwards.
type Options struct {
	BaseURL string
	// ChunkSize of 0 picks a size from the content length (chunker.SizeFor).
	ChunkSize        int64
	WithChunkHashing bool
	Transport        Transport
	RetryBackoff     time.Duration
	HTTPClient       *http.Client
	Clock            Clock
	Logger           logrus.FieldLogger
}

// Outcome is the terminal state of an upload that did not fail.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes a finished upload. URL is set only when Outcome is Completed.
type Result struct {
	Outcome    Outcome
	TransferID string
	SessionID  string
	URL        string
	Digest     string
	Chunks     int
	Bytes      int64
}

// AsyncUpload is delivered by UploadAsync.
type AsyncUpload struct {
	Result
	Err error
}

// Uploader runs chunked uploads against one service. A single Uploader may
// serve many concurrent uploads; each call owns its own session.
type Uploader struct {
	opts   Options
	client *Client
	events EventChannel
	log    logrus.FieldLogger
}

// NewUploader validates opts and fills in defaults.
func NewUploader(opts Options) (*Uploader, error) {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		return nil, invalidInput("new uploader", errors.New("base url is required"))
	}
	if opts.ChunkSize < 0 {
		return nil, invalidInput("new uploader", fmt.Errorf("chunk size %d is negative", opts.ChunkSize))
	}
	switch opts.Transport {
	case "":
		opts.Transport = TransportHTTP
	case TransportHTTP, TransportWebSocket:
	default:
		return nil, invalidInput("new uploader", fmt.Errorf("unknown transport %q", opts.Transport))
	}
	if opts.Transport == TransportWebSocket {
		if _, _, err := socketURL(opts.BaseURL); err != nil {
			return nil, invalidInput("new uploader", err)
		}
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}

	return &Uploader{
		opts:   opts,
		client: NewClient(opts.BaseURL, opts.HTTPClient, opts.Logger),
		log:    opts.Logger,
	}, nil
}

// Events exposes the notification channel shared by all uploads of u.
func (u *Uploader) Events() *EventChannel { return &u.events }

// Subscribe is shorthand for u.Events().Subscribe(l).
func (u *Uploader) Subscribe(l Listener) func() { return u.events.Subscribe(l) }

func (u *Uploader) Client() *Client { return u.client }

// Upload transfers item and returns the download URL. Cancelling ctx is
// observed before each chunk, before each retry and before finalizing; a
// request already in flight is allowed to finish. Cancellation yields a
// Cancelled result and a nil error.
func (u *Uploader) Upload(ctx context.Context, item *Item) (Result, error) {
	if item == nil {
		return Result{}, invalidInput("upload", errors.New("item is nil"))
	}
	transferID := uuid.NewString()
	log := u.log.WithFields(logrus.Fields{"transfer_id": transferID, "item": item.Kind().String()})

	r, size, err := item.Open()
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	chunkSize := u.opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = chunker.SizeFor(size)
	}
	plan, err := chunker.Plan(size, chunkSize)
	if err != nil {
		return Result{}, invalidInput("upload", err)
	}

	inflight := context.WithoutCancel(ctx)
	session, err := OpenSession(inflight, u.client, item.Extension, item.Name, chunkSize, u.opts.WithChunkHashing)
	if err != nil {
		log.WithError(err).Error("failed to create upload session")
		u.events.emit(UploadError{TransferID: transferID, Fatal: true, Err: err, Envelope: EnvelopeOf(err)})
		return Result{}, err
	}
	log = log.WithField("session_id", session.ID)
	log.WithFields(logrus.Fields{"bytes": size, "chunks": len(plan), "chunk_size": chunkSize}).Info("upload session created")
	u.events.emit(SessionCreated{TransferID: transferID, SessionID: session.ID, Name: session.Name, Size: size})

	result := Result{TransferID: transferID, SessionID: session.ID, Chunks: len(plan), Bytes: size}

	sender, err := u.newSender(inflight, session)
	if err != nil {
		return result, u.abort(inflight, transferID, session, log, err)
	}
	defer sender.close()

	p := u.pipeline(transferID, session, sender, hasher.New(), log)
	for _, d := range plan {
		if ctx.Err() != nil {
			return u.cancelled(ctx, result, session, log), nil
		}
		data, err := chunker.ReadChunk(r, d)
		if err != nil {
			return result, u.abort(inflight, transferID, session, log, invalidInput("read chunk", err))
		}
		if err := p.whole.Update(data); err != nil {
			return result, u.abort(inflight, transferID, session, log, err)
		}

		cancelled, err := p.transferChunk(ctx, data, d.Index+1, len(plan))
		if err != nil {
			return result, u.abort(inflight, transferID, session, log, err)
		}
		if cancelled {
			return u.cancelled(ctx, result, session, log), nil
		}
	}

	if ctx.Err() != nil {
		return u.cancelled(ctx, result, session, log), nil
	}
	return p.finish(inflight, result, item.Path())
}

// UploadAsync runs Upload on its own goroutine. The channel receives exactly
// one value.
func (u *Uploader) UploadAsync(ctx context.Context, item *Item) <-chan AsyncUpload {
	ch := make(chan AsyncUpload, 1)
	go func() {
		res, err := u.Upload(ctx, item)
		ch <- AsyncUpload{Result: res, Err: err}
	}()
	return ch
}

func (u *Uploader) pipeline(transferID string, session *Session, sender chunkSender, whole *hasher.Hasher, log logrus.FieldLogger) *chunkPipeline {
	return &chunkPipeline{
		transferID: transferID,
		session:    session,
		sender:     sender,
		whole:      whole,
		events:     &u.events,
		clock:      u.opts.Clock,
		backoff:    u.opts.RetryBackoff,
		baseURL:    u.opts.BaseURL,
		log:        log,
	}
}

func (u *Uploader) newSender(ctx context.Context, session *Session) (chunkSender, error) {
	if u.opts.Transport == TransportWebSocket {
		s, err := dialSocket(ctx, u.opts.BaseURL, session, u.log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return &httpSender{session: session}, nil
}

// cancelled releases the session and reports the Cancelled outcome. A
// failed release notice is reported as an event only.
func (u *Uploader) cancelled(ctx context.Context, result Result, session *Session, log logrus.FieldLogger) Result {
	log.Info("upload cancelled, releasing session")
	if err := session.Cancel(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("failed to release cancelled session")
		u.events.emit(UploadError{TransferID: result.TransferID, SessionID: session.ID, Err: err, Envelope: EnvelopeOf(err)})
	}
	result.Outcome = Cancelled
	return result
}

// abort marks session Failed, releases it best-effort and returns cause.
func (u *Uploader) abort(ctx context.Context, transferID string, session *Session, log logrus.FieldLogger, cause error) error {
	log.WithError(cause).Error("upload failed")
	session.fail()
	if err := session.client.Release(ctx, session.ID); err != nil {
		log.WithError(err).Debug("failed to release session after failure")
	}
	u.events.emit(UploadError{TransferID: transferID, SessionID: session.ID, Fatal: true, Err: cause, Envelope: EnvelopeOf(cause)})
	return cause
}

// chunkPipeline is the chunk-transfer-with-retry routine shared by Upload
// and Sink.
type chunkPipeline struct {
	transferID string
	session    *Session
	sender     chunkSender
	whole      *hasher.Hasher
	events     *EventChannel
	clock      Clock
	backoff    time.Duration
	baseURL    string
	log        logrus.FieldLogger
}

// transferChunk sends data until it succeeds, cancellation is observed or the
// sender reports a failure it cannot retry. index is 1-based.
func (p *chunkPipeline) transferChunk(ctx context.Context, data []byte, index, total int) (bool, error) {
	var digest string
	if p.session.WithChunkHashing && p.sender.sendsDigest() {
		digest = hasher.Sum(data)
	}
	log := p.log.WithFields(logrus.Fields{"chunk": index, "chunks": total})
	inflight := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		err := p.sender.send(inflight, data, digest)
		if err == nil {
			log.WithField("bytes", len(data)).Debug("chunk uploaded")
			p.events.emit(ChunkComplete{
				TransferID:  p.transferID,
				SessionID:   p.session.ID,
				ChunkDigest: digest,
				Index:       index,
				Total:       total,
				Bytes:       int64(len(data)),
			})
			return false, nil
		}

		if !p.sender.retryable() || errors.Is(err, ErrInvalidState) {
			return false, err
		}
		log.WithError(err).WithField("attempt", attempt).Warn("chunk upload failed, retrying")
		p.events.emit(UploadError{
			TransferID: p.transferID,
			SessionID:  p.session.ID,
			Index:      index,
			Attempt:    attempt,
			Err:        err,
			Envelope:   EnvelopeOf(err),
		})

		if ctx.Err() != nil {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, nil
		case <-p.clock.After(p.backoff):
		}
		if ctx.Err() != nil {
			return true, nil
		}
	}
}

// finish flushes the transport, finalizes with the whole-content digest and
// announces the URL.
func (p *chunkPipeline) finish(ctx context.Context, result Result, path string) (Result, error) {
	if err := p.sender.close(); err != nil {
		err = &Error{Op: "close transport", Kind: ErrChunkTransfer, Err: err}
		p.session.fail()
		p.events.emit(UploadError{TransferID: p.transferID, SessionID: p.session.ID, Fatal: true, Err: err})
		return result, err
	}

	digest, err := p.whole.Finalize()
	if err != nil {
		return result, fmt.Errorf("finalize digest: %w", err)
	}
	result.Digest = digest

	locator, err := p.session.Finalize(ctx, digest)
	if err != nil {
		p.log.WithError(err).Error("failed to finalize upload")
		p.events.emit(UploadError{TransferID: p.transferID, SessionID: p.session.ID, Fatal: true, Err: err, Envelope: EnvelopeOf(err)})
		return result, err
	}

	result.URL = DownloadURL(p.baseURL, locator)
	result.Outcome = Completed
	p.log.WithFields(logrus.Fields{"url": result.URL, "digest": digest}).Info("upload complete")
	p.events.emit(UploadComplete{TransferID: p.transferID, SessionID: p.session.ID, Path: path, URL: result.URL, Digest: digest})
	return result, nil
}

// chunkSender moves one chunk to the service.
type chunkSender interface {
	send(ctx context.Context, data []byte, digest string) error
	// retryable reports whether a failed send may be repeated.
	retryable() bool
	sendsDigest() bool
	close() error
}

type httpSender struct {
	session *Session
}

func (s *httpSender) send(ctx context.Context, data []byte, digest string) error {
	return s.session.UploadChunk(ctx, data, digest)
}

func (s *httpSender) retryable() bool   { return true }
func (s *httpSender) sendsDigest() bool { return true }
func (s *httpSender) close() error      { return nil }
