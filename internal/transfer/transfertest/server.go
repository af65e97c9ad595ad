// Package transfertest runs an in-process upload service for tests.
package transfertest

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/jaywantadh/chunkload/internal/storage"
	"github.com/jaywantadh/chunkload/internal/transfer"
)

// Failure is a canned error response.
type Failure struct {
	Status   int
	Envelope *transfer.ErrorEnvelope
}

// CreateRequest records a session-create call.
type CreateRequest struct {
	Extension string
	Name      string
}

// ChunkRequest records one chunk attempt, over HTTP or as a socket frame.
type ChunkRequest struct {
	SessionID string
	Position  int // 1-based position of the chunk within its session
	Digest    string
	Data      []byte
	Accepted  bool
	Socket    bool
}

// FinishRequest records a finalize call.
type FinishRequest struct {
	SessionID string
	Digest    string
}

type session struct {
	id        string
	extension string
	name      string
	data      bytes.Buffer
	accepted  int
	released  bool
	finished  bool
	socket    sync.WaitGroup
}

// Server fakes the chunked upload service. Finalized content is kept in a
// storage.LocalStorage and served back under /d/{locator}.
type Server struct {
	*httptest.Server

	store storage.Storage

	mu            sync.Mutex
	sessions      map[string]*session
	chunkFailures map[int]int
	createFailure *Failure
	finishFailure *Failure
	releaseFail   *Failure
	omitLength    bool
	onChunk       func(ChunkRequest)

	creates  []CreateRequest
	chunks   []ChunkRequest
	finishes []FinishRequest
	releases []string
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	s := &Server{
		store:         store,
		sessions:      make(map[string]*session),
		chunkFailures: make(map[int]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /c/{ext}", s.handleCreate)
	mux.HandleFunc("POST /c/{ext}/{name}", s.handleCreate)
	mux.HandleFunc("POST /u/{id}", s.handleChunk)
	mux.HandleFunc("POST /u/{id}/{digest}", s.handleChunk)
	mux.HandleFunc("POST /f/{id}/{digest}", s.handleFinish)
	mux.HandleFunc("POST /r/{id}", s.handleRelease)
	mux.HandleFunc("GET /d/{locator}", s.handleDownload)
	mux.Handle("GET /ws", websocket.Handler(s.handleSocket))
	return mux
}

// FailChunk makes the chunk at 1-based position fail the next times attempts
// in every session.
func (s *Server) FailChunk(position, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkFailures[position] = times
}

func (s *Server) FailCreate(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailure = &f
}

func (s *Server) FailFinish(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishFailure = &f
}

func (s *Server) FailRelease(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseFail = &f
}

// OmitContentLength makes downloads stream without a Content-Length header.
func (s *Server) OmitContentLength() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLength = true
}

// OnChunk registers fn to run after every chunk attempt has been answered
// or, for socket frames, stored.
func (s *Server) OnChunk(fn func(ChunkRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

func (s *Server) Creates() []CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreateRequest(nil), s.creates...)
}

func (s *Server) Chunks() []ChunkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChunkRequest(nil), s.chunks...)
}

func (s *Server) Finishes() []FinishRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FinishRequest(nil), s.finishes...)
}

func (s *Server) Releases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.releases...)
}

// Content returns what was stored under a download locator.
func (s *Server) Content(locator string) ([]byte, error) {
	rc, err := s.store.Get(locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req := CreateRequest{Extension: r.PathValue("ext"), Name: r.PathValue("name")}

	s.mu.Lock()
	s.creates = append(s.creates, req)
	if f := s.createFailure; f != nil {
		s.mu.Unlock()
		writeFailure(w, *f)
		return
	}
	sess := &session{id: uuid.NewString(), extension: req.Extension, name: req.Name}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, transfer.CreateSessionResponse{Stream: sess.id})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "READ_FAILED", "", err.Error())
		return
	}
	digest := r.PathValue("digest")

	status, failure := s.acceptChunk(r.PathValue("id"), digest, data, false)
	if failure != nil {
		writeFailure(w, *failure)
		return
	}
	w.WriteHeader(status)
}

// acceptChunk applies injected failures and digest checks, then appends data
// to the session.
func (s *Server) acceptChunk(id, digest string, data []byte, socket bool) (int, *Failure) {
	s.mu.Lock()
	req := ChunkRequest{SessionID: id, Digest: digest, Data: data, Socket: socket}
	failure := s.chunkFailure(id, digest, data, &req)
	s.chunks = append(s.chunks, req)
	hook := s.onChunk
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return http.StatusOK, failure
}

// chunkFailure must be called with s.mu held.
func (s *Server) chunkFailure(id, digest string, data []byte, req *ChunkRequest) *Failure {
	sess, ok := s.sessions[id]
	if !ok {
		return &Failure{Status: http.StatusNotFound, Envelope: &transfer.ErrorEnvelope{Generic: "NOT_FOUND", Field: "stream", Message: "unknown upload stream"}}
	}
	req.Position = sess.accepted + 1
	if sess.released || sess.finished {
		return &Failure{Status: http.StatusGone, Envelope: &transfer.ErrorEnvelope{Generic: "GONE", Field: "stream", Message: "upload stream is closed"}}
	}
	if n := s.chunkFailures[req.Position]; n > 0 {
		s.chunkFailures[req.Position] = n - 1
		return &Failure{Status: http.StatusServiceUnavailable, Envelope: &transfer.ErrorEnvelope{Generic: "UNAVAILABLE", Message: "try again"}}
	}
	if digest != "" && digest != sha1Hex(data) {
		return &Failure{Status: http.StatusBadRequest, Envelope: &transfer.ErrorEnvelope{Generic: "HASH_MISMATCH", Field: "hash", Message: "chunk hash does not match"}}
	}
	sess.data.Write(data)
	sess.accepted++
	req.Accepted = true
	return nil
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id, digest := r.PathValue("id"), r.PathValue("digest")

	s.mu.Lock()
	s.finishes = append(s.finishes, FinishRequest{SessionID: id, Digest: digest})
	sess, ok := s.sessions[id]
	failure := s.finishFailure
	s.mu.Unlock()

	if failure != nil {
		writeFailure(w, *failure)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "stream", "unknown upload stream")
		return
	}
	sess.socket.Wait()

	s.mu.Lock()
	if sess.released || sess.finished {
		s.mu.Unlock()
		writeError(w, http.StatusGone, "GONE", "stream", "upload stream is closed")
		return
	}
	content := append([]byte(nil), sess.data.Bytes()...)
	s.mu.Unlock()

	if sha1Hex(content) != digest {
		writeError(w, http.StatusBadRequest, "HASH_MISMATCH", "hash", "file hash does not match")
		return
	}
	locator, err := s.store.Put(bytes.NewReader(content))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE", "", err.Error())
		return
	}

	s.mu.Lock()
	sess.finished = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, transfer.FinishResponse{ID: locator})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	s.releases = append(s.releases, id)
	failure := s.releaseFail
	sess, ok := s.sessions[id]
	if ok && failure == nil {
		sess.released = true
	}
	s.mu.Unlock()

	switch {
	case failure != nil:
		writeFailure(w, *failure)
	case !ok:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "stream", "unknown upload stream")
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	locator := r.PathValue("locator")
	size, err := s.store.Stat(locator)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "id", "no such file")
		return
	}
	rc, err := s.store.Get(locator)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "id", "no such file")
		return
	}
	defer rc.Close()

	s.mu.Lock()
	omit := s.omitLength
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	if omit {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
	}
	io.Copy(w, rc)
}

// handleSocket speaks the socket handshake, then stores every binary frame
// as the next chunk until the client closes.
func (s *Server) handleSocket(ws *websocket.Conn) {
	defer ws.Close()

	var hello string
	if err := websocket.Message.Receive(ws, &hello); err != nil || hello != transfer.SocketClientHello {
		return
	}
	if err := websocket.Message.Send(ws, transfer.SocketAskStream); err != nil {
		return
	}
	var id string
	if err := websocket.Message.Receive(ws, &id); err != nil {
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.socket.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		websocket.Message.Send(ws, transfer.SocketErrorPrefix+" unknown upload stream")
		return
	}
	defer sess.socket.Done()

	if err := websocket.Message.Send(ws, transfer.SocketReady); err != nil {
		return
	}
	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			return
		}
		if _, failure := s.acceptChunk(id, "", frame, true); failure != nil {
			websocket.Message.Send(ws, transfer.SocketErrorPrefix+" "+failure.Envelope.Message)
			return
		}
	}
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func writeFailure(w http.ResponseWriter, f Failure) {
	if f.Envelope == nil {
		w.WriteHeader(f.Status)
		return
	}
	writeJSON(w, f.Status, f.Envelope)
}

func writeError(w http.ResponseWriter, status int, generic, field, message string) {
	writeJSON(w, status, transfer.ErrorEnvelope{Generic: generic, Field: field, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
