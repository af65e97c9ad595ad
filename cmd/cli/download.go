package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkload/config"
	"github.com/jaywantadh/chunkload/internal/compressor"
	"github.com/jaywantadh/chunkload/internal/encryptor"
	"github.com/jaywantadh/chunkload/internal/history"
	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"d"},
		Usage:     "Download a URL into DEST ('-' for standard output)",
		ArgsUsage: "URL DEST",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "decompress", Usage: "lz4-decompress while writing"},
			&cli.StringFlag{Name: "password", Usage: "open sealed content with this password", EnvVars: []string{"CHUNKLOAD_PASSWORD"}},
		},
		Action: runDownload,
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type writeCloser struct {
	io.Writer
	io.Closer
}

type stdout struct{ io.Writer }

func (stdout) Close() error { return nil }

// target opens DEST as a writer. Standard output is never closed.
func target(dest string) (io.WriteCloser, error) {
	if dest == "-" {
		return stdout{os.Stdout}, nil
	}
	d, err := transfer.NewFileDestination(dest)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func runDownload(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("download needs URL and DEST", 2)
	}
	url, destArg := c.Args().Get(0), c.Args().Get(1)
	password := c.String("password")

	opts := config.Config.DownloaderOptions()
	opts.Logger = logging.Log
	d := transfer.NewDownloader(opts)

	tracker := transfer.NewProgressTracker()
	d.OnProgress(tracker.HandleDownload)
	d.OnProgress(func(p transfer.DownloadProgress) {
		fmt.Fprintf(os.Stderr, "%s\n", p)
	})

	out, err := target(destArg)
	if err != nil {
		return err
	}
	w := out
	if c.Bool("decompress") {
		dw := compressor.NewDecompressWriter(out)
		w = writeCloser{Writer: dw, Closer: multiCloser{dw, out}}
	}

	var n int64
	if password == "" {
		dest, err := transfer.NewStreamDestination(w)
		if err != nil {
			w.Close()
			return err
		}
		if n, err = d.Download(c.Context, url, dest); err != nil {
			return err
		}
	} else {
		buf := transfer.NewBufferDestination()
		if _, err := d.Download(c.Context, url, buf); err != nil {
			w.Close()
			return err
		}
		plain, err := encryptor.Open(buf.Bytes(), password)
		if err != nil {
			w.Close()
			return err
		}
		n, err = io.Copy(w, bytes.NewReader(plain))
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}

	if store := openHistory(); store != nil {
		defer store.Close()
		rec := history.DownloadRecord{ID: uuid.NewString(), URL: url, Destination: destArg, Bytes: n, CreatedAt: time.Now()}
		if err := store.PutDownload(rec); err != nil {
			logging.Log.WithError(err).Warn("failed to record download")
		}
	}
	return nil
}
