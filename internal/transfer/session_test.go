package transfer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService answers every route with a fixed status and body and records
// the request paths.
type stubService struct {
	mu     sync.Mutex
	paths  []string
	status map[string]int
	body   map[string]string
}

func newStubService(t *testing.T) (*stubService, *Client) {
	s := &stubService{status: map[string]int{}, body: map[string]string{
		"c": `{"stream":"s-1"}`,
		"f": `{"id":"loc-1"}`,
	}}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.Out = io.Discard
	return s, NewClient(srv.URL, srv.Client(), log)
}

func (s *stubService) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	route := r.URL.Path[1:2]
	status, body := s.status[route], s.body[route]
	s.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (s *stubService) set(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[route] = status
	s.body[route] = body
}

func (s *stubService) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func TestSessionLifecycle(t *testing.T) {
	svc, client := newStubService(t)

	s, err := OpenSession(t.Context(), client, "txt", "", 4, true)
	require.NoError(t, err)
	assert.Equal(t, "s-1", s.ID)
	assert.Equal(t, StateOpen, s.State())

	require.NoError(t, s.UploadChunk(t.Context(), []byte("abcd"), "81fe8bfe87576c3ecb22426f8e57847382917acf"))
	assert.Equal(t, StateUploading, s.State())

	locator, err := s.Finalize(t.Context(), "81fe8bfe87576c3ecb22426f8e57847382917acf")
	require.NoError(t, err)
	assert.Equal(t, "loc-1", locator)
	assert.Equal(t, StateCompleted, s.State())

	assert.ErrorIs(t, s.UploadChunk(t.Context(), []byte("x"), ""), ErrInvalidState)
	assert.ErrorIs(t, s.Cancel(t.Context()), ErrInvalidState)
	_, err = s.Finalize(t.Context(), "x")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, []string{
		"/c/txt",
		"/u/s-1/81fe8bfe87576c3ecb22426f8e57847382917acf",
		"/f/s-1/81fe8bfe87576c3ecb22426f8e57847382917acf",
	}, svc.requests())
}

func TestSessionFinalizeEmptyContent(t *testing.T) {
	_, client := newStubService(t)
	s, err := OpenSession(t.Context(), client, "txt", "", 4, false)
	require.NoError(t, err)

	_, err = s.Finalize(t.Context(), "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
}

func TestSessionCancelHoldsWhenNoticeFails(t *testing.T) {
	svc, client := newStubService(t)
	svc.set("r", http.StatusInternalServerError, `{"generic":"INTERNAL","error":"boom"}`)

	s, err := OpenSession(t.Context(), client, "txt", "", 4, false)
	require.NoError(t, err)

	err = s.Cancel(t.Context())
	require.ErrorIs(t, err, ErrRelease)
	assert.Equal(t, "boom", EnvelopeOf(err).Message)
	assert.Equal(t, StateCancelled, s.State())

	_, err = s.Finalize(t.Context(), "x")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSessionFinalizeFailure(t *testing.T) {
	svc, client := newStubService(t)
	svc.set("f", http.StatusBadRequest, `{"generic":"HASH_MISMATCH","field":"hash"}`)

	s, err := OpenSession(t.Context(), client, "txt", "", 4, false)
	require.NoError(t, err)

	_, err = s.Finalize(t.Context(), "bad")
	require.ErrorIs(t, err, ErrFinalize)
	assert.Equal(t, "hash", EnvelopeOf(err).Field)
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Cancel(t.Context()), ErrInvalidState)
}

func TestOpenSessionTrimsName(t *testing.T) {
	svc, client := newStubService(t)

	s, err := OpenSession(t.Context(), client, "txt", "report.TXT", 4, false)
	require.NoError(t, err)
	assert.Equal(t, "report", s.Name)
	assert.Equal(t, []string{"/c/txt/report"}, svc.requests())
}

func TestOpenSessionRejectsInput(t *testing.T) {
	svc, client := newStubService(t)

	for _, ext := range []string{"", "a/b", "tar gz"} {
		_, err := OpenSession(t.Context(), client, ext, "", 4, false)
		assert.ErrorIs(t, err, ErrInvalidInput, ext)
	}
	_, err := OpenSession(t.Context(), client, "txt", "", 0, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, svc.requests())
}

func TestOpenSessionUnparsableResponse(t *testing.T) {
	for _, body := range []string{`{}`, `not json`, ``} {
		svc, client := newStubService(t)
		svc.set("c", http.StatusOK, body)

		_, err := OpenSession(t.Context(), client, "txt", "", 4, false)
		assert.ErrorIs(t, err, ErrSessionCreate, body)
	}
}

func TestFinishUnparsableResponseKeepsEnvelope(t *testing.T) {
	svc, client := newStubService(t)
	svc.set("f", http.StatusOK, `{"generic":"BUSY","error":"try later"}`)

	_, err := client.Finish(t.Context(), "s-1", "abc")
	require.ErrorIs(t, err, ErrFinalize)
	assert.Equal(t, &ErrorEnvelope{Generic: "BUSY", Message: "try later"}, EnvelopeOf(err))
}

func TestOpenSessionRejected(t *testing.T) {
	svc, client := newStubService(t)
	svc.set("c", http.StatusForbidden, `{"generic":"FORBIDDEN","field":"ext","error":"not allowed"}`)

	_, err := OpenSession(t.Context(), client, "exe", "", 4, false)
	require.ErrorIs(t, err, ErrSessionCreate)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusForbidden, te.Status)
	assert.Equal(t, &ErrorEnvelope{Generic: "FORBIDDEN", Field: "ext", Message: "not allowed"}, te.Envelope)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "finalizing", StateFinalizing.String())
	assert.Equal(t, "State(42)", State(42).String())
}
