package domain

import "time"

// ProgressSnapshot is a point-in-time view of a download's byte count.
// It is never persisted.
type ProgressSnapshot struct {
	DownloadID           string           `json:"download_id"`
	Identity             DownloadIdentity `json:"identity"`
	Status               DownloadStatus   `json:"status"`
	BytesDownloadedSoFar int64            `json:"bytes_downloaded_so_far"`
	TotalSizeBytes       int64            `json:"total_size_bytes"`
	Percent              *float64         `json:"percent,omitempty"`
	Timestamp            time.Time        `json:"timestamp"`
	Terminal             bool             `json:"terminal,omitempty"`
}

// SnapshotOf derives a snapshot from a download record
func SnapshotOf(d *Download, at time.Time) ProgressSnapshot {
	s := ProgressSnapshot{
		DownloadID:           d.ID,
		Identity:             d.Identity(),
		Status:               d.Status,
		BytesDownloadedSoFar: d.BytesDownloadedSoFar,
		TotalSizeBytes:       d.TotalSizeBytes,
		Timestamp:            at,
	}
	if d.SizeKnown() {
		p := float64(d.BytesDownloadedSoFar) * 100 / float64(d.TotalSizeBytes)
		if p > 100 {
			p = 100
		}
		s.Percent = &p
	}
	return s
}
