package history

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/chunkload/internal/transfer"
)

// Recorder turns uploader events into UploadRecords. Only uploads that
// reach UploadComplete are stored.
type Recorder struct {
	store *Store
	log   logrus.FieldLogger
	// Template supplies the fields events do not carry (extension,
	// transport, compression and encryption flags).
	Template UploadRecord

	mu      sync.Mutex
	pending map[string]*pendingUpload
	saved   []UploadRecord
}

type pendingUpload struct {
	rec      UploadRecord
	streamed bool
}

func NewRecorder(store *Store, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: store, log: log, pending: make(map[string]*pendingUpload)}
}

// HandleEvent is a transfer.Listener.
func (r *Recorder) HandleEvent(e transfer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := transfer.TransferIDOf(e)
	switch ev := e.(type) {
	case transfer.SessionCreated:
		p := &pendingUpload{rec: r.Template, streamed: ev.Size < 0}
		p.rec.ID = id
		p.rec.SessionID = ev.SessionID
		p.rec.FileName = ev.Name
		if !p.streamed {
			p.rec.Size = ev.Size
		}
		r.pending[id] = p
	case transfer.ChunkComplete:
		if p := r.pending[id]; p != nil {
			p.rec.Chunks++
			if p.streamed {
				p.rec.Size += ev.Bytes
			}
		}
	case transfer.UploadError:
		if ev.Fatal {
			delete(r.pending, id)
		}
	case transfer.UploadComplete:
		p := r.pending[id]
		if p == nil {
			return
		}
		delete(r.pending, id)
		rec := &p.rec
		rec.URL = ev.URL
		rec.Digest = ev.Digest
		rec.CreatedAt = time.Now()
		if err := r.store.PutUpload(*rec); err != nil {
			r.log.WithError(err).WithField("session_id", rec.SessionID).Warn("failed to record upload")
			return
		}
		r.saved = append(r.saved, *rec)
	}
}

// Saved returns the records written so far.
func (r *Recorder) Saved() []UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UploadRecord(nil), r.saved...)
}
