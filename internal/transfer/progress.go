package transfer

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// TransferStatus is the tracker's view of a transfer.
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusFailed     TransferStatus = "failed"
	StatusCancelled  TransferStatus = "cancelled"
)

// ProgressTracker follows uploads through their events and downloads through
// their progress reports, keyed by transfer id.
type ProgressTracker struct {
	transfers map[string]*TransferProgress
	mu        sync.RWMutex
	now       func() time.Time
}

// TransferProgress represents the progress of a single transfer
type TransferProgress struct {
	TransferID     string
	SessionID      string
	FileName       string
	URL            string
	Status         TransferStatus
	ChunksDone     int
	TotalChunks    int
	Bytes          int64
	TotalBytes     int64 // -1 when unknown
	Retries        int
	LastError      error
	StartTime      time.Time
	LastUpdateTime time.Time
	Speed          float64 // bytes per second
	EstimatedTime  time.Duration
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		transfers: make(map[string]*TransferProgress),
		now:       time.Now,
	}
}

// HandleEvent is an upload Listener.
func (pt *ProgressTracker) HandleEvent(e Event) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	switch ev := e.(type) {
	case SessionCreated:
		pt.transfers[ev.TransferID] = &TransferProgress{
			TransferID:     ev.TransferID,
			SessionID:      ev.SessionID,
			FileName:       ev.Name,
			Status:         StatusPending,
			TotalBytes:     ev.Size,
			StartTime:      now,
			LastUpdateTime: now,
		}
	case ChunkComplete:
		p := pt.transfers[ev.TransferID]
		if p == nil {
			return
		}
		p.Status = StatusInProgress
		p.ChunksDone++
		p.TotalChunks = max(p.TotalChunks, ev.Total)
		p.Bytes += ev.Bytes
		p.update(now)
	case UploadError:
		p := pt.transfers[ev.TransferID]
		if p == nil {
			return
		}
		p.LastError = ev.Err
		if ev.Fatal {
			p.Status = StatusFailed
		} else if ev.Index > 0 {
			p.Retries++
		}
		p.LastUpdateTime = now
	case UploadComplete:
		p := pt.transfers[ev.TransferID]
		if p == nil {
			return
		}
		p.Status = StatusCompleted
		p.URL = ev.URL
		p.update(now)
	}
}

// HandleDownload is a download ProgressFunc.
func (pt *ProgressTracker) HandleDownload(dp DownloadProgress) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	p := pt.transfers[dp.TransferID]
	if p == nil {
		p = &TransferProgress{
			TransferID: dp.TransferID,
			URL:        dp.URL,
			TotalBytes: -1,
			StartTime:  now,
		}
		pt.transfers[dp.TransferID] = p
	}
	if dp.TotalBytes != nil {
		p.TotalBytes = *dp.TotalBytes
	}
	p.Bytes = dp.BytesRead
	p.Status = StatusInProgress
	if dp.Done {
		p.Status = StatusCompleted
	}
	p.update(now)
}

// Finish sets a terminal status for transfers that end without an event,
// such as a cancelled upload.
func (pt *ProgressTracker) Finish(transferID string, status TransferStatus) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if p, ok := pt.transfers[transferID]; ok {
		p.Status = status
		p.LastUpdateTime = pt.now()
	}
}

func (p *TransferProgress) update(now time.Time) {
	p.LastUpdateTime = now

	if elapsed := now.Sub(p.StartTime).Seconds(); elapsed > 0 {
		p.Speed = float64(p.Bytes) / elapsed
	}
	p.EstimatedTime = 0
	if p.Speed > 0 && p.TotalBytes > p.Bytes {
		p.EstimatedTime = time.Duration(float64(p.TotalBytes-p.Bytes) / p.Speed * float64(time.Second))
	}
}

// Get returns a snapshot of one transfer.
func (pt *ProgressTracker) Get(transferID string) (TransferProgress, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	p, ok := pt.transfers[transferID]
	if !ok {
		return TransferProgress{}, false
	}
	return *p, true
}

func (pt *ProgressTracker) Remove(transferID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.transfers, transferID)
}

// All returns snapshots of every tracked transfer, oldest first.
func (pt *ProgressTracker) All() []TransferProgress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	out := make([]TransferProgress, 0, len(pt.transfers))
	for _, p := range pt.transfers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Summary renders a one-line description of p.
func (p TransferProgress) Summary() string {
	line := fmt.Sprintf("[%s] %s", p.Status, FormatBytes(p.Bytes))
	if p.TotalBytes >= 0 {
		line += "/" + FormatBytes(p.TotalBytes)
	}
	if p.TotalChunks > 0 {
		line += fmt.Sprintf(" chunks %d/%d", p.ChunksDone, p.TotalChunks)
	}
	if p.Speed > 0 {
		line += fmt.Sprintf(" %s/s", FormatBytes(int64(p.Speed)))
	}
	if p.EstimatedTime > 0 {
		line += " ETA " + formatDuration(p.EstimatedTime)
	}
	if p.Retries > 0 {
		line += fmt.Sprintf(" retries %d", p.Retries)
	}
	return line
}

// Print writes the summary of one transfer to w.
func (pt *ProgressTracker) Print(w io.Writer, transferID string) {
	p, ok := pt.Get(transferID)
	if !ok {
		fmt.Fprintf(w, "Transfer %s not found\n", transferID)
		return
	}
	name := p.FileName
	if name == "" {
		name = p.URL
	}
	fmt.Fprintf(w, "%s %s\n", name, p.Summary())
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats duration into human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
