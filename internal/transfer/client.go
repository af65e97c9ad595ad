package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// maxEnvelopeBytes bounds how much of an error body is read for parsing.
const maxEnvelopeBytes = 64 * 1024

// Client issues the individual protocol calls against the upload service.
// It never retries; retry policy belongs to the Uploader.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a protocol client for baseURL (no trailing slash).
func NewClient(baseURL string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession opens an upload session and returns its id.
func (c *Client) CreateSession(ctx context.Context, extension, name string) (string, error) {
	const op = "create session"
	body, err := c.post(ctx, op, ErrSessionCreate, createURL(c.baseURL, extension, name), nil)
	if err != nil {
		return "", err
	}

	var response CreateSessionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", &Error{Op: op, Kind: ErrSessionCreate, Envelope: ParseErrorEnvelope(body), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if response.Stream == "" {
		return "", &Error{Op: op, Kind: ErrSessionCreate, Envelope: ParseErrorEnvelope(body), Err: errors.New("response carries no stream id")}
	}
	return response.Stream, nil
}

// UploadChunk sends one chunk. digest is appended to the route when non-empty.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, data []byte, digest string) error {
	_, err := c.post(ctx, "upload chunk", ErrChunkTransfer, uploadURL(c.baseURL, sessionID, digest), data)
	return err
}

// Finish finalizes a session with the whole-content digest and returns the
// download locator.
func (c *Client) Finish(ctx context.Context, sessionID, digest string) (string, error) {
	const op = "finish upload"
	body, err := c.post(ctx, op, ErrFinalize, finishURL(c.baseURL, sessionID, digest), nil)
	if err != nil {
		return "", err
	}

	var response FinishResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", &Error{Op: op, Kind: ErrFinalize, Envelope: ParseErrorEnvelope(body), Err: fmt.Errorf("failed to parse download id: %w", err)}
	}
	if response.ID == "" {
		return "", &Error{Op: op, Kind: ErrFinalize, Envelope: ParseErrorEnvelope(body), Err: errors.New("response carries no download id")}
	}
	return response.ID, nil
}

// Release tells the service the session is abandoned.
func (c *Client) Release(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, "release session", ErrRelease, releaseURL(c.baseURL, sessionID), nil)
	return err
}

func (c *Client) post(ctx context.Context, op string, kind error, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidInput, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	c.log.WithFields(logrus.Fields{"op": op, "url": url, "bytes": len(payload)}).Debug("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
		return nil, &Error{
			Op:       op,
			Kind:     kind,
			Status:   resp.StatusCode,
			Envelope: ParseErrorEnvelope(raw),
			Err:      errors.New(resp.Status),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: kind, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return respBody, nil
}
