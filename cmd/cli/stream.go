package main

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Upload standard input as it arrives",
		Flags: append(uploadFlags(),
			&cli.Int64Flag{Name: "flush-every", Usage: "bytes buffered before each flush, 0 uses the chunk size"},
		),
		Action: runStream,
	}
}

func runStream(c *cli.Context) error {
	ext := c.String("ext")
	if ext == "" {
		return cli.Exit("stream needs --ext", 2)
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()
	if s.recorder != nil {
		s.recorder.Template.Extension = ext
	}

	sink, err := s.uploader.NewSink(c.Context, ext, c.String("name"))
	if err != nil {
		return err
	}
	w := &flushingWriter{ctx: c.Context, sink: sink, every: c.Int64("flush-every")}
	if _, err := io.Copy(w, os.Stdin); err != nil {
		return s.report(transfer.Result{}, abandon(c.Context, sink, err))
	}
	return s.report(sink.FinishUpload(c.Context))
}

// flushingWriter writes into a sink and flushes it whenever at least every
// bytes are buffered.
type flushingWriter struct {
	ctx   context.Context
	sink  *transfer.Sink
	every int64
}

func (w *flushingWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	if err != nil {
		return n, err
	}
	every := w.every
	if every <= 0 {
		every = transfer.DefaultChunkSize
	}
	if int64(w.sink.Buffered()) >= every {
		if err := w.sink.Flush(w.ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// abandon releases the sink's session after a producer failure and returns
// cause. A cancelled flush has already released it.
func abandon(ctx context.Context, sink *transfer.Sink, cause error) error {
	if err := sink.Abort(ctx); err != nil {
		logging.Log.WithError(err).Debug("failed to abort upload")
	}
	return cause
}
