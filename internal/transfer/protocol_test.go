package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrorEnvelope(t *testing.T) {
	cases := []struct {
		name string
		body string
		want *ErrorEnvelope
	}{
		{"empty body", ``, nil},
		{"not json", `<html>bad gateway</html>`, nil},
		{"no known fields", `{"status":"nope"}`, nil},
		{"all fields", `{"generic":"G","field":"F","error":"E"}`, &ErrorEnvelope{Generic: "G", Field: "F", Message: "E"}},
		{"message only", `{"error":"disk full"}`, &ErrorEnvelope{Message: "disk full"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseErrorEnvelope([]byte(tc.body)))
		})
	}
}

func TestErrorEnvelopeString(t *testing.T) {
	env := &ErrorEnvelope{Generic: "BAD", Field: "hash", Message: "mismatch"}
	assert.Equal(t, "BAD field=hash mismatch", env.String())
}

func TestRoutes(t *testing.T) {
	base := "http://localhost:6942"
	assert.Equal(t, base+"/c/txt", createURL(base, "txt", ""))
	assert.Equal(t, base+"/c/txt/my%20notes", createURL(base, "txt", "my notes"))
	assert.Equal(t, base+"/u/s1", uploadURL(base, "s1", ""))
	assert.Equal(t, base+"/u/s1/abc", uploadURL(base, "s1", "abc"))
	assert.Equal(t, base+"/f/s1/abc", finishURL(base, "s1", "abc"))
	assert.Equal(t, base+"/r/s1", releaseURL(base, "s1"))
	assert.Equal(t, base+"/d/loc", DownloadURL(base+"/", "loc"))
}

func TestNormalizeDownloadURL(t *testing.T) {
	assert.Equal(t, "https://host/d/abc", NormalizeDownloadURL("https://host/e/abc"))
	assert.Equal(t, "https://host/d/abc", NormalizeDownloadURL("https://host/d/abc"))
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		base, url, origin string
	}{
		{"http://localhost:6942", "ws://localhost:6942/ws", "http://localhost:6942"},
		{"https://files.example.com/api/", "wss://files.example.com/api/ws", "https://files.example.com"},
		{"ws://localhost:1", "ws://localhost:1/ws", "http://localhost:1"},
	}
	for _, tc := range cases {
		u, origin, err := socketURL(tc.base)
		require.NoError(t, err)
		assert.Equal(t, tc.url, u)
		assert.Equal(t, tc.origin, origin)
	}

	_, _, err := socketURL("ftp://host")
	assert.Error(t, err)
}

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	cause := assert.AnError
	err := error(&Error{Op: "upload chunk", Kind: ErrChunkTransfer, Status: 503, Err: cause})

	assert.ErrorIs(t, err, ErrChunkTransfer)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrFinalize)
	assert.Equal(t, "upload chunk: could not upload chunk (status 503): "+cause.Error(), err.Error())
	assert.Nil(t, EnvelopeOf(err))
}
