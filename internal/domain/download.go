package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// DownloadStatus represents the current status of a download
type DownloadStatus string

const (
	StatusNotStarted DownloadStatus = "not_started"
	StatusQueued     DownloadStatus = "queued"
	StatusRunning    DownloadStatus = "running"
	StatusPaused     DownloadStatus = "paused"
	StatusCompleted  DownloadStatus = "completed"
	StatusCanceled   DownloadStatus = "canceled"
	StatusFailed     DownloadStatus = "failed"
)

// SizeUnknown marks a total size that has not been probed (or could not be).
const SizeUnknown int64 = -1

// FileType is the kind of course asset a download belongs to
type FileType string

const (
	FileTypeVideoHD    FileType = "video_hd"
	FileTypeVideoSD    FileType = "video_sd"
	FileTypeSlides     FileType = "slides"
	FileTypeTranscript FileType = "transcript"
	FileTypeAudio      FileType = "audio"
	FileTypeDocument   FileType = "document"
)

var fileTypeExtensions = map[FileType]string{
	FileTypeVideoHD:    ".mp4",
	FileTypeVideoSD:    ".mp4",
	FileTypeSlides:     ".pdf",
	FileTypeTranscript: ".pdf",
	FileTypeAudio:      ".mp3",
	FileTypeDocument:   ".pdf",
}

// ValidateFileType checks if a file type is known
func ValidateFileType(fileType FileType) bool {
	_, ok := fileTypeExtensions[fileType]
	return ok
}

// Extension returns the file extension used for this file type
func (f FileType) Extension() string {
	return fileTypeExtensions[f]
}

// DownloadIdentity identifies a download across restarts
type DownloadIdentity struct {
	FileType FileType `json:"file_type"`
	CourseID string   `json:"course_id"`
	ModuleID string   `json:"module_id"`
	ItemID   string   `json:"item_id"`
}

// Validate checks that every component is present and path-safe
func (i DownloadIdentity) Validate() error {
	if !ValidateFileType(i.FileType) {
		return fmt.Errorf("%w: unknown file type %q", ErrInvalidIdentity, i.FileType)
	}
	for name, part := range map[string]string{
		"course_id": i.CourseID,
		"module_id": i.ModuleID,
		"item_id":   i.ItemID,
	} {
		if part == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidIdentity, name)
		}
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return fmt.Errorf("%w: %s contains a path separator", ErrInvalidIdentity, name)
		}
	}
	return nil
}

// Key returns the persisted primary key of the download
func (i DownloadIdentity) Key() string {
	return strings.Join([]string{string(i.FileType), i.CourseID, i.ModuleID, i.ItemID}, "/")
}

// RelativePath returns the location of the finished file below the download directory
func (i DownloadIdentity) RelativePath() string {
	return path.Join(i.CourseID, i.ModuleID, i.ItemID+"_"+string(i.FileType)+i.FileType.Extension())
}

func (i DownloadIdentity) String() string {
	return i.Key()
}

// Download represents a tracked, resumable file transfer
type Download struct {
	ID                   string         `json:"id" gorm:"primaryKey"`
	FileType             FileType       `json:"file_type" gorm:"not null"`
	CourseID             string         `json:"course_id" gorm:"not null;index"`
	ModuleID             string         `json:"module_id" gorm:"not null"`
	ItemID               string         `json:"item_id" gorm:"not null"`
	Status               DownloadStatus `json:"status" gorm:"not null;index"`
	Title                string         `json:"title,omitempty"`
	RemoteURI            string         `json:"remote_uri" gorm:"not null"`
	RemoteETag           string         `json:"remote_etag,omitempty"`
	LocalPath            string         `json:"local_path"`
	BytesDownloadedSoFar int64          `json:"bytes_downloaded_so_far"`
	TotalSizeBytes       int64          `json:"total_size_bytes"`
	LastError            string         `json:"last_error,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// NewDownload creates a new download record in the not-started state
func NewDownload(identity DownloadIdentity, remoteURI, localPath, title string) *Download {
	now := time.Now()
	return &Download{
		ID:             identity.Key(),
		FileType:       identity.FileType,
		CourseID:       identity.CourseID,
		ModuleID:       identity.ModuleID,
		ItemID:         identity.ItemID,
		Status:         StatusNotStarted,
		Title:          title,
		RemoteURI:      remoteURI,
		LocalPath:      localPath,
		TotalSizeBytes: SizeUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Identity rebuilds the identity of a stored download
func (d *Download) Identity() DownloadIdentity {
	return DownloadIdentity{
		FileType: d.FileType,
		CourseID: d.CourseID,
		ModuleID: d.ModuleID,
		ItemID:   d.ItemID,
	}
}

// PartialPath is where the file is written while the transfer runs
func (d *Download) PartialPath() string {
	return d.LocalPath + ".part"
}

// SizeKnown reports whether the total size has been probed
func (d *Download) SizeKnown() bool {
	return d.TotalSizeBytes > 0
}

// MarkQueued marks the download as waiting for a worker slot
func (d *Download) MarkQueued() {
	d.Status = StatusQueued
	d.LastError = ""
	d.CompletedAt = nil
	d.UpdatedAt = time.Now()
}

// MarkRunning marks the download as running
func (d *Download) MarkRunning() {
	d.Status = StatusRunning
	now := time.Now()
	d.StartedAt = &now
	d.UpdatedAt = now
}

// UpdateProgress records bytes written so far, clamped to a known total
func (d *Download) UpdateProgress(written int64) {
	if d.SizeKnown() && written > d.TotalSizeBytes {
		written = d.TotalSizeBytes
	}
	d.BytesDownloadedSoFar = written
	d.UpdatedAt = time.Now()
}

// MarkPaused marks the download as paused, keeping its partial file
func (d *Download) MarkPaused() {
	d.Status = StatusPaused
	d.UpdatedAt = time.Now()
}

// MarkCompleted marks the download as completed
func (d *Download) MarkCompleted(size int64) {
	d.Status = StatusCompleted
	d.BytesDownloadedSoFar = size
	d.TotalSizeBytes = size
	d.LastError = ""
	now := time.Now()
	d.CompletedAt = &now
	d.UpdatedAt = now
}

// MarkFailed marks the download as failed
func (d *Download) MarkFailed(err error) {
	d.Status = StatusFailed
	d.LastError = err.Error()
	d.UpdatedAt = time.Now()
}

// MarkCanceled marks the download as canceled
func (d *Download) MarkCanceled() {
	d.Status = StatusCanceled
	d.UpdatedAt = time.Now()
}

// IsActive reports whether a transfer owns the download
func (d *Download) IsActive() bool {
	return d.Status == StatusQueued || d.Status == StatusRunning
}

// IsTerminal checks if the download is in a terminal state
func (d *Download) IsTerminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusCanceled || d.Status == StatusFailed
}

// Clone returns a copy that can be handed to subscribers
func (d *Download) Clone() *Download {
	c := *d
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// DownloadFilter narrows ListDownloads results
type DownloadFilter struct {
	CourseID string
	Status   DownloadStatus
}

// DownloadStats represents download statistics
type DownloadStats struct {
	Total     int64 `json:"total"`
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Paused    int64 `json:"paused"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`

	// QueueDepth counts transfers accepted but not yet picked up by a worker
	QueueDepth int `json:"queue_depth"`
}

// DownloadEvent is published whenever a download changes state
type DownloadEvent struct {
	Download *Download `json:"download"`
	Removed  bool      `json:"removed,omitempty"`
}
