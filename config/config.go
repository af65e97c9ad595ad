package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/spf13/viper"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ChunkSize        int64         `mapstructure:"chunk_size"`
	WithChunkHashing bool          `mapstructure:"with_chunk_hashing"`
	Transport        string        `mapstructure:"transport"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	DownloadBuffer   int           `mapstructure:"download_buffer"`
	ProgressEvery    int           `mapstructure:"progress_every"`
	HistoryPath      string        `mapstructure:"history_path"`
	Debug            bool          `mapstructure:"debug"`
}

var Config *AppConfig

// LoadConfig reads config.yaml from path (when present), applies CHUNKLOAD_*
// environment overrides and stores the result in Config.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("chunkload")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:6942")
	v.SetDefault("chunk_size", transfer.DefaultChunkSize)
	v.SetDefault("with_chunk_hashing", true)
	v.SetDefault("transport", string(transfer.TransportHTTP))
	v.SetDefault("retry_backoff", transfer.DefaultRetryBackoff)
	v.SetDefault("http_timeout", 5*time.Minute)
	v.SetDefault("download_buffer", transfer.DefaultDownloadBuffer)
	v.SetDefault("progress_every", transfer.DefaultProgressEvery)
	v.SetDefault("history_path", "./data/history")
	v.SetDefault("debug", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("⚠️ Could not find config file in %s, using defaults", path)
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	return Config, nil
}

func (c *AppConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.ChunkSize < 0 {
		return errors.New("chunk_size must not be negative")
	}
	switch transfer.Transport(c.Transport) {
	case transfer.TransportHTTP, transfer.TransportWebSocket:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.RetryBackoff <= 0 {
		return errors.New("retry_backoff must be positive")
	}
	return nil
}

func (c *AppConfig) httpClient() *http.Client {
	return &http.Client{Timeout: c.HTTPTimeout}
}

// streamingClient bounds connection setup and the wait for response headers
// but not the body, so long downloads are not cut off while data still flows.
func (c *AppConfig) streamingClient() *http.Client {
	dialer := &net.Dialer{Timeout: c.HTTPTimeout, KeepAlive: 30 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	tr.TLSHandshakeTimeout = c.HTTPTimeout
	tr.ResponseHeaderTimeout = c.HTTPTimeout
	return &http.Client{Transport: tr}
}

// UploaderOptions maps the configuration onto upload engine options.
func (c *AppConfig) UploaderOptions() transfer.Options {
	return transfer.Options{
		BaseURL:          strings.TrimRight(c.BaseURL, "/"),
		ChunkSize:        c.ChunkSize,
		WithChunkHashing: c.WithChunkHashing,
		Transport:        transfer.Transport(c.Transport),
		RetryBackoff:     c.RetryBackoff,
		HTTPClient:       c.httpClient(),
	}
}

// DownloaderOptions maps the configuration onto download engine options.
func (c *AppConfig) DownloaderOptions() transfer.DownloadOptions {
	return transfer.DownloadOptions{
		BufferSize:    c.DownloadBuffer,
		ProgressEvery: c.ProgressEvery,
		HTTPClient:    c.streamingClient(),
	}
}
