package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkload/config"
	"github.com/jaywantadh/chunkload/internal/compressor"
	"github.com/jaywantadh/chunkload/internal/encryptor"
	"github.com/jaywantadh/chunkload/internal/history"
	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

// sealedExtension is appended to the extension of password-protected uploads.
const sealedExtension = "sealed"

func uploadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "display name (defaults to the file name)"},
		&cli.StringFlag{Name: "ext", Usage: "extension to upload as (defaults to the file suffix)"},
		&cli.BoolFlag{Name: "no-hash", Usage: "do not send per-chunk digests"},
		&cli.BoolFlag{Name: "websocket", Usage: "stream chunks over a WebSocket"},
		&cli.Int64Flag{Name: "chunk-size", Usage: "chunk size in bytes, 0 picks one from the file size", Value: -1},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Aliases:   []string{"u"},
		Usage:     "Upload a file and print its download URL",
		ArgsUsage: "FILE",
		Flags: append(uploadFlags(),
			&cli.BoolFlag{Name: "compress", Usage: "lz4-compress while uploading"},
			&cli.StringFlag{Name: "password", Usage: "seal the content with this password", EnvVars: []string{"CHUNKLOAD_PASSWORD"}},
		),
		Action: runUpload,
	}
}

// session bundles an uploader with the listeners every upload command uses.
type session struct {
	uploader *transfer.Uploader
	tracker  *transfer.ProgressTracker
	store    *history.Store
	recorder *history.Recorder
}

func newSession(c *cli.Context) (*session, error) {
	opts := config.Config.UploaderOptions()
	opts.Logger = logging.Log
	if c.Bool("no-hash") {
		opts.WithChunkHashing = false
	}
	if c.Bool("websocket") {
		opts.Transport = transfer.TransportWebSocket
	}
	if size := c.Int64("chunk-size"); size >= 0 {
		opts.ChunkSize = size
	}

	u, err := transfer.NewUploader(opts)
	if err != nil {
		return nil, err
	}
	s := &session{uploader: u, tracker: transfer.NewProgressTracker()}
	u.Subscribe(s.tracker.HandleEvent)
	u.Subscribe(func(e transfer.Event) {
		switch ev := e.(type) {
		case transfer.ChunkComplete:
			s.tracker.Print(os.Stderr, ev.TransferID)
		case transfer.UploadError:
			logging.Log.WithError(ev.Err).WithField("chunk", ev.Index).Warn("upload error")
		}
	})

	if s.store = openHistory(); s.store != nil {
		s.recorder = history.NewRecorder(s.store, logging.Log)
		s.recorder.Template.Transport = string(opts.Transport)
		u.Subscribe(s.recorder.HandleEvent)
	}
	return s, nil
}

func (s *session) close() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *session) report(res transfer.Result, err error) error {
	if errors.Is(err, transfer.ErrCancelled) {
		return cli.Exit("upload cancelled", 130)
	}
	if err != nil {
		return err
	}
	if res.Outcome == transfer.Cancelled {
		s.tracker.Finish(res.TransferID, transfer.StatusCancelled)
		return cli.Exit("upload cancelled", 130)
	}
	fmt.Println(res.URL)
	return nil
}

func runUpload(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("upload needs exactly one FILE argument", 2)
	}
	path := c.Args().First()
	item, err := transfer.NewFileItem(path)
	if err != nil {
		return err
	}
	ext, name := item.Extension, item.Name
	if v := c.String("ext"); v != "" {
		ext = v
	}
	if v := c.String("name"); v != "" {
		name = v
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	compress := c.Bool("compress")
	if compress && compressor.ShouldSkipCompression(path) {
		logging.Log.WithField("file", filepath.Base(path)).Info("content is already compressed, uploading as is")
		compress = false
	}
	if compress {
		ext += "." + compressor.Extension
	}
	password := c.String("password")
	if password != "" {
		ext += "." + sealedExtension
	}
	if s.recorder != nil {
		s.recorder.Template.Extension = ext
		s.recorder.Template.Compressed = compress
		s.recorder.Template.Encrypted = password != ""
	}

	var res transfer.Result
	switch {
	case password != "":
		res, err = uploadSealed(c.Context, s.uploader, path, ext, name, password, compress)
	case compress:
		res, err = uploadCompressed(c.Context, s.uploader, path, ext, name, config.Config.ChunkSize)
	default:
		item.Extension, item.Name = ext, name
		res, err = s.uploader.Upload(c.Context, item)
	}
	return s.report(res, err)
}

// uploadSealed seals the whole file in memory and uploads it as one buffer.
func uploadSealed(ctx context.Context, u *transfer.Uploader, path, ext, name, password string, compress bool) (transfer.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transfer.Result{}, err
	}
	if compress {
		if data, err = compressBytes(data); err != nil {
			return transfer.Result{}, err
		}
	}
	sealed, err := encryptor.Seal(data, password)
	if err != nil {
		return transfer.Result{}, err
	}
	item, err := transfer.NewBytesItem(sealed, ext, name)
	if err != nil {
		return transfer.Result{}, err
	}
	return u.Upload(ctx, item)
}

// uploadCompressed streams the file through lz4 into a sink, so the
// compressed size never needs to be known upfront.
func uploadCompressed(ctx context.Context, u *transfer.Uploader, path, ext, name string, flushEvery int64) (transfer.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return transfer.Result{}, err
	}
	defer f.Close()

	sink, err := u.NewSink(ctx, ext, name)
	if err != nil {
		return transfer.Result{}, err
	}
	w := &flushingWriter{ctx: ctx, sink: sink, every: flushEvery}
	lz := compressor.NewWriter(w)
	if _, err := io.Copy(lz, f); err != nil {
		return transfer.Result{}, abandon(ctx, sink, err)
	}
	if err := lz.Close(); err != nil {
		return transfer.Result{}, abandon(ctx, sink, err)
	}
	return sink.FinishUpload(ctx)
}

func compressBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	lz := compressor.NewWriter(&buf)
	if _, err := lz.Write(data); err != nil {
		return nil, err
	}
	if err := lz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
