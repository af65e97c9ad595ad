package storage

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGet(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	id, err := s.Put(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", id)

	rc, err := s.Get(id)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	size, err := s.Stat(id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)
}

func TestLocalStorageDeduplicates(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	first, err := s.Put(bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	second, err := s.Put(bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLocalStorageMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get("../escape")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete("deadbeef"), ErrNotFound)
}

func TestLocalStorageDelete(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	id, err := s.Put(strings.NewReader("gone soon"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))

	_, err = s.Stat(id)
	assert.ErrorIs(t, err, ErrNotFound)
}
