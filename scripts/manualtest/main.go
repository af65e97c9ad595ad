package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jaywantadh/chunkload/config"
	"github.com/jaywantadh/chunkload/internal/hasher"
	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/pkg/logging"
)

func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := hasher.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return h.Finalize()
}

// Uploads samples/ABC.pdf to the configured service, downloads it back and
// compares digests.
func main() {
	inputPath := filepath.Join("samples", "ABC.pdf")
	if len(os.Args) > 1 {
		inputPath = os.Args[1]
	}
	if _, err := os.Stat(inputPath); err != nil {
		fmt.Printf("❌ Sample file not found: %v\n", err)
		return
	}

	cfg, err := config.LoadConfig("./config")
	if err != nil {
		fmt.Printf("❌ Config failed: %v\n", err)
		return
	}
	logging.InitLogger(true)

	origHash, err := sha1File(inputPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing original: %v\n", err)
		return
	}
	fmt.Printf("📄 Original file: %s\n", inputPath)
	fmt.Printf("🔑 Original SHA1: %s\n", origHash)

	opts := cfg.UploaderOptions()
	opts.Logger = logging.Log
	uploader, err := transfer.NewUploader(opts)
	if err != nil {
		fmt.Printf("❌ Uploader init failed: %v\n", err)
		return
	}
	uploader.Subscribe(func(e transfer.Event) {
		if c, ok := e.(transfer.ChunkComplete); ok {
			fmt.Printf("🧩 Chunk %d/%d sent\n", c.Index, c.Total)
		}
	})

	item, err := transfer.NewFileItem(inputPath)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	ctx := context.Background()
	res, err := uploader.Upload(ctx, item)
	if err != nil {
		fmt.Printf("❌ Upload failed: %v\n", err)
		return
	}
	fmt.Printf("🔗 Uploaded: %s (digest %s)\n", res.URL, res.Digest)

	outDir := "downloaded_manual"
	outPath := filepath.Join(outDir, filepath.Base(inputPath))
	dest, err := transfer.NewFileDestination(outPath)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	dopts := cfg.DownloaderOptions()
	dopts.Logger = logging.Log
	if _, err := transfer.NewDownloader(dopts).Download(ctx, res.URL, dest); err != nil {
		fmt.Printf("❌ Download failed: %v\n", err)
		return
	}

	reHash, err := sha1File(outPath)
	if err != nil {
		fmt.Printf("❌ Failed hashing download: %v\n", err)
		return
	}
	fmt.Printf("📦 Downloaded file: %s\n", outPath)
	fmt.Printf("🔑 Downloaded SHA1: %s\n", reHash)

	if reHash == origHash && reHash == res.Digest {
		fmt.Println("✅ SUCCESS: Downloaded file matches original")
	} else {
		fmt.Println("❌ MISMATCH: Downloaded file differs from original")
	}
}
