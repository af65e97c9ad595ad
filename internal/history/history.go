// Package history keeps a local record of completed uploads and downloads
// in BadgerDB.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	uploadPrefix   = "upload:"
	downloadPrefix = "download:"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("history record not found")

// UploadRecord describes one finalized upload.
type UploadRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	FileName   string    `json:"file_name"`
	Extension  string    `json:"extension"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	URL        string    `json:"url"`
	Chunks     int       `json:"chunks"`
	Transport  string    `json:"transport"`
	Compressed bool      `json:"compressed"`
	Encrypted  bool      `json:"encrypted"`
	CreatedAt  time.Time `json:"created_at"`
}

// DownloadRecord describes one finished download.
type DownloadRecord struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Destination string    `json:"destination"`
	Bytes       int64     `json:"bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps BadgerDB for history operations.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutUpload stores rec keyed by its session id.
func (s *Store) PutUpload(rec UploadRecord) error {
	if rec.SessionID == "" {
		return errors.New("upload record has no session id")
	}
	return s.put(uploadPrefix+rec.SessionID, rec)
}

// GetUpload retrieves the upload recorded for sessionID.
func (s *Store) GetUpload(sessionID string) (UploadRecord, error) {
	var rec UploadRecord
	err := s.get(uploadPrefix+sessionID, &rec)
	return rec, err
}

// ListUploads returns every upload, newest first.
func (s *Store) ListUploads() ([]UploadRecord, error) {
	var recs []UploadRecord
	err := s.scan(uploadPrefix, func(val []byte) error {
		var rec UploadRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, err
}

// PutDownload stores rec keyed by its id.
func (s *Store) PutDownload(rec DownloadRecord) error {
	if rec.ID == "" {
		return errors.New("download record has no id")
	}
	return s.put(downloadPrefix+rec.ID, rec)
}

// ListDownloads returns every download, newest first.
func (s *Store) ListDownloads() ([]DownloadRecord, error) {
	var recs []DownloadRecord
	err := s.scan(downloadPrefix, func(val []byte) error {
		var rec DownloadRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, err
}

func (s *Store) put(key string, v any) error {
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

func (s *Store) get(key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
