package history

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/chunkload/internal/transfer"
	"github.com/jaywantadh/chunkload/internal/transfer/transfertest"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreUploads(t *testing.T) {
	s := openStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutUpload(UploadRecord{ID: "t1", SessionID: "s1", FileName: "old", CreatedAt: base}))
	require.NoError(t, s.PutUpload(UploadRecord{ID: "t2", SessionID: "s2", FileName: "new", CreatedAt: base.Add(time.Hour)}))

	rec, err := s.GetUpload("s1")
	require.NoError(t, err)
	assert.Equal(t, "old", rec.FileName)

	recs, err := s.ListUploads()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].FileName)
	assert.Equal(t, "old", recs[1].FileName)

	_, err = s.GetUpload("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.PutUpload(UploadRecord{}))
}

func TestStoreDownloads(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	require.NoError(t, s.PutDownload(DownloadRecord{ID: "a", URL: "http://x/d/1", Bytes: 3, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, s.PutDownload(DownloadRecord{ID: "b", URL: "http://x/d/2", Bytes: 5, CreatedAt: now}))

	recs, err := s.ListDownloads()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)

	uploads, err := s.ListUploads()
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "history")
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutUpload(UploadRecord{ID: "t", SessionID: "s", URL: "http://x/d/1"}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetUpload("s")
	require.NoError(t, err)
	assert.Equal(t, "http://x/d/1", rec.URL)
}

func TestRecorderSkipsFailedUploads(t *testing.T) {
	r := NewRecorder(openStore(t), quietLogger())

	r.HandleEvent(transfer.SessionCreated{TransferID: "t1", SessionID: "s1", Size: 10})
	r.HandleEvent(transfer.UploadError{TransferID: "t1", SessionID: "s1", Fatal: true})
	r.HandleEvent(transfer.UploadComplete{TransferID: "t1", SessionID: "s1", URL: "http://x/d/1"})

	assert.Empty(t, r.Saved())
}

func TestRecorderStreamedSize(t *testing.T) {
	r := NewRecorder(openStore(t), quietLogger())

	r.HandleEvent(transfer.SessionCreated{TransferID: "t1", SessionID: "s1", Size: -1})
	r.HandleEvent(transfer.ChunkComplete{TransferID: "t1", Index: 1, Total: 2, Bytes: 4})
	r.HandleEvent(transfer.ChunkComplete{TransferID: "t1", Index: 2, Total: 2, Bytes: 3})
	r.HandleEvent(transfer.UploadComplete{TransferID: "t1", SessionID: "s1", URL: "u", Digest: "d"})

	saved := r.Saved()
	require.Len(t, saved, 1)
	assert.EqualValues(t, 7, saved[0].Size)
	assert.Equal(t, 2, saved[0].Chunks)
	assert.Equal(t, "d", saved[0].Digest)
}

func TestRecorderWithUploader(t *testing.T) {
	srv := transfertest.New(t)
	store := openStore(t)
	u, err := transfer.NewUploader(transfer.Options{BaseURL: srv.URL, ChunkSize: 4, WithChunkHashing: true, Logger: quietLogger()})
	require.NoError(t, err)

	r := NewRecorder(store, quietLogger())
	r.Template = UploadRecord{Extension: "txt", Transport: string(transfer.TransportHTTP)}
	u.Subscribe(r.HandleEvent)

	item, err := transfer.NewBytesItem([]byte("ten bytes!"), "txt", "notes")
	require.NoError(t, err)
	res, err := u.Upload(t.Context(), item)
	require.NoError(t, err)

	rec, err := store.GetUpload(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.TransferID, rec.ID)
	assert.Equal(t, "notes", rec.FileName)
	assert.Equal(t, "txt", rec.Extension)
	assert.EqualValues(t, 10, rec.Size)
	assert.Equal(t, 3, rec.Chunks)
	assert.Equal(t, res.URL, rec.URL)
	assert.Equal(t, res.Digest, rec.Digest)
}
