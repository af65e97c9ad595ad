package transfer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultChunkSize      int64 = 2 * 1024 * 1024
	DefaultRetryBackoff         = 500 * time.Millisecond
	DefaultDownloadBuffer       = 8192
	DefaultProgressEvery        = 100
)

// Service routes, relative to the base URL.
const (
	RouteCreate   = "/c/"
	RouteUpload   = "/u/"
	RouteFinish   = "/f/"
	RouteRelease  = "/r/"
	RouteDownload = "/d/"
	RouteEmbed    = "/e/"
	RouteSocket   = "/ws"
)

// WebSocket handshake messages.
const (
	SocketClientHello = "[Client] Connected"
	SocketAskStream   = "[Server] Send upload stream id"
	SocketReady       = "[Server] Ready"
	SocketErrorPrefix = "[Error]"
)

// Transport selects how chunk bytes travel to the service.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

// CreateSessionResponse is the body of a successful session-create call.
type CreateSessionResponse struct {
	Stream string `json:"stream"`
}

// FinishResponse is the body of a successful finalize call.
type FinishResponse struct {
	ID string `json:"id"`
}

// ErrorEnvelope is the optional JSON body the service sends with a failure.
type ErrorEnvelope struct {
	Generic string `json:"generic,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"error,omitempty"`
}

func (e *ErrorEnvelope) String() string {
	parts := make([]string, 0, 3)
	if e.Generic != "" {
		parts = append(parts, e.Generic)
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}

// ParseErrorEnvelope decodes body best-effort. Empty, malformed or
// field-less bodies yield nil.
func ParseErrorEnvelope(body []byte) *ErrorEnvelope {
	if len(body) == 0 {
		return nil
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.Generic == "" && env.Field == "" && env.Message == "" {
		return nil
	}
	return &env
}

func createURL(base, extension, name string) string {
	u := base + RouteCreate + url.PathEscape(extension)
	if name != "" {
		u += "/" + url.PathEscape(name)
	}
	return u
}

func uploadURL(base, sessionID, digest string) string {
	u := base + RouteUpload + url.PathEscape(sessionID)
	if digest != "" {
		u += "/" + digest
	}
	return u
}

func finishURL(base, sessionID, digest string) string {
	return base + RouteFinish + url.PathEscape(sessionID) + "/" + digest
}

func releaseURL(base, sessionID string) string {
	return base + RouteRelease + url.PathEscape(sessionID)
}

// DownloadURL combines the base address with a download locator.
func DownloadURL(base, locator string) string {
	return strings.TrimRight(base, "/") + RouteDownload + locator
}

// NormalizeDownloadURL turns an embed link into a direct download link.
func NormalizeDownloadURL(raw string) string {
	return strings.ReplaceAll(raw, RouteEmbed, RouteDownload)
}

// socketURL derives the ws(s) endpoint and the origin to present from base.
func socketURL(base string) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	origin := u.Scheme + "://" + u.Host
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		origin = strings.Replace(origin, "ws", "http", 1)
	default:
		return "", "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + RouteSocket
	return u.String(), origin, nil
}
