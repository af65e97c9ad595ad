package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkload/internal/chunker"
	"github.com/jaywantadh/chunkload/internal/hasher"
)

// Sink uploads content pushed by a producer that does not know its total
// size. Writes only buffer; each Flush uploads the buffer as one or more
// chunks. The whole-content digest spans every flush.
//
// A Sink serves a single producer and is not safe for concurrent use.
type Sink struct {
	u         *Uploader
	session   *Session
	pipeline  *chunkPipeline
	chunkSize int64
	buf       bytes.Buffer

	result Result
	done   bool
}

// NewSink opens a session for a streamed upload. Chunk size falls back to
// DefaultChunkSize when the uploader is set to automatic sizing.
func (u *Uploader) NewSink(ctx context.Context, extension, name string) (*Sink, error) {
	chunkSize := u.opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	transferID := uuid.NewString()
	log := u.log.WithFields(logrus.Fields{"transfer_id": transferID, "item": "sink"})

	inflight := context.WithoutCancel(ctx)
	session, err := OpenSession(inflight, u.client, extension, name, chunkSize, u.opts.WithChunkHashing)
	if err != nil {
		log.WithError(err).Error("failed to create upload session")
		u.events.emit(UploadError{TransferID: transferID, Fatal: true, Err: err, Envelope: EnvelopeOf(err)})
		return nil, err
	}
	log = log.WithField("session_id", session.ID)
	log.Info("upload session created")
	u.events.emit(SessionCreated{TransferID: transferID, SessionID: session.ID, Name: session.Name, Size: -1})

	sender, err := u.newSender(inflight, session)
	if err != nil {
		return nil, u.abort(inflight, transferID, session, log, err)
	}

	return &Sink{
		u:         u,
		session:   session,
		pipeline:  u.pipeline(transferID, session, sender, hasher.New(), log),
		chunkSize: chunkSize,
		result:    Result{TransferID: transferID, SessionID: session.ID},
	}, nil
}

func (s *Sink) SessionID() string { return s.session.ID }

func (s *Sink) TransferID() string { return s.result.TransferID }

// Buffered returns the number of bytes waiting for the next Flush.
func (s *Sink) Buffered() int { return s.buf.Len() }

// Write appends p to the buffer. No I/O happens until Flush.
func (s *Sink) Write(p []byte) (int, error) {
	if err := s.live("write"); err != nil {
		return 0, err
	}
	return s.buf.Write(p)
}

// Flush uploads everything buffered since the last flush. Chunk indexes in
// events restart at 1 for every flush. On cancellation the session is
// released and an ErrCancelled error is returned.
func (s *Sink) Flush(ctx context.Context) error {
	if err := s.live("flush"); err != nil {
		return err
	}
	if s.buf.Len() == 0 {
		return nil
	}

	data := s.buf.Bytes()
	plan, err := chunker.Plan(int64(len(data)), s.chunkSize)
	if err != nil {
		return invalidInput("flush", err)
	}

	p := s.pipeline
	inflight := context.WithoutCancel(ctx)
	for _, d := range plan {
		if ctx.Err() != nil {
			return s.cancel(ctx)
		}
		chunk := data[d.Offset : d.Offset+d.Length]
		if err := p.whole.Update(chunk); err != nil {
			return s.fail(inflight, err)
		}
		cancelled, err := p.transferChunk(ctx, chunk, d.Index+1, len(plan))
		if err != nil {
			return s.fail(inflight, err)
		}
		if cancelled {
			return s.cancel(ctx)
		}
	}

	s.result.Chunks += len(plan)
	s.result.Bytes += int64(len(data))
	s.buf.Reset()
	return nil
}

// FinishUpload flushes pending bytes and finalizes the session. Cancellation
// yields a Cancelled result and a nil error.
func (s *Sink) FinishUpload(ctx context.Context) (Result, error) {
	if err := s.Flush(ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			return s.result, nil
		}
		return s.result, err
	}
	if ctx.Err() != nil {
		s.cancel(ctx)
		return s.result, nil
	}
	s.done = true
	res, err := s.pipeline.finish(context.WithoutCancel(ctx), s.result, "")
	s.result = res
	return res, err
}

// Abort abandons the upload and releases the session.
func (s *Sink) Abort(ctx context.Context) error {
	if err := s.live("abort"); err != nil {
		return err
	}
	s.done = true
	s.buf.Reset()
	s.result.Outcome = Cancelled
	s.pipeline.sender.close()
	return s.session.Cancel(context.WithoutCancel(ctx))
}

func (s *Sink) live(op string) error {
	if s.done {
		return fmt.Errorf("%s: sink is %s: %w", op, s.session.State(), ErrInvalidState)
	}
	return nil
}

func (s *Sink) cancel(ctx context.Context) error {
	s.done = true
	s.pipeline.sender.close()
	s.result = s.u.cancelled(ctx, s.result, s.session, s.pipeline.log)
	return &Error{Op: "flush", Kind: ErrCancelled, Err: ctx.Err()}
}

func (s *Sink) fail(ctx context.Context, err error) error {
	s.done = true
	s.pipeline.sender.close()
	return s.u.abort(ctx, s.result.TransferID, s.session, s.pipeline.log, err)
}
