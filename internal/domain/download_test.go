package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() DownloadIdentity {
	return DownloadIdentity{
		FileType: FileTypeVideoHD,
		CourseID: "course-1",
		ModuleID: "section-2",
		ItemID:   "item-3",
	}
}

func TestNewDownload(t *testing.T) {
	id := testIdentity()

	download := NewDownload(id, "https://cdn.example.com/v.mp4", "/tmp/v.mp4", "Lecture 1")

	assert.Equal(t, "video_hd/course-1/section-2/item-3", download.ID)
	assert.Equal(t, id, download.Identity())
	assert.Equal(t, StatusNotStarted, download.Status)
	assert.Equal(t, SizeUnknown, download.TotalSizeBytes)
	assert.False(t, download.SizeKnown())
	assert.Equal(t, "/tmp/v.mp4.part", download.PartialPath())
}

func TestDownloadIdentity_Validate(t *testing.T) {
	assert.NoError(t, testIdentity().Validate())

	bad := testIdentity()
	bad.FileType = "hologram"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidIdentity)

	bad = testIdentity()
	bad.ItemID = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidIdentity)

	bad = testIdentity()
	bad.CourseID = "../etc"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidIdentity)
}

func TestDownloadIdentity_RelativePath(t *testing.T) {
	id := testIdentity()
	assert.Equal(t, "course-1/section-2/item-3_video_hd.mp4", id.RelativePath())

	id.FileType = FileTypeSlides
	assert.Equal(t, "course-1/section-2/item-3_slides.pdf", id.RelativePath())
}

func TestDownload_Lifecycle(t *testing.T) {
	download := NewDownload(testIdentity(), "https://cdn.example.com/v.mp4", "/tmp/v.mp4", "")

	download.MarkQueued()
	assert.Equal(t, StatusQueued, download.Status)
	assert.True(t, download.IsActive())

	download.MarkRunning()
	assert.Equal(t, StatusRunning, download.Status)
	assert.NotNil(t, download.StartedAt)

	download.MarkFailed(errors.New("connection reset"))
	assert.Equal(t, StatusFailed, download.Status)
	assert.Equal(t, "connection reset", download.LastError)
	assert.True(t, download.IsTerminal())

	download.MarkQueued()
	assert.Empty(t, download.LastError)

	download.MarkCompleted(2048)
	assert.Equal(t, StatusCompleted, download.Status)
	assert.Equal(t, int64(2048), download.TotalSizeBytes)
	assert.Equal(t, int64(2048), download.BytesDownloadedSoFar)
	assert.NotNil(t, download.CompletedAt)
}

func TestDownload_UpdateProgressClampsToKnownTotal(t *testing.T) {
	download := NewDownload(testIdentity(), "https://cdn.example.com/v.mp4", "/tmp/v.mp4", "")

	download.UpdateProgress(500)
	assert.Equal(t, int64(500), download.BytesDownloadedSoFar)

	download.TotalSizeBytes = 400
	download.UpdateProgress(500)
	assert.Equal(t, int64(400), download.BytesDownloadedSoFar)
}

func TestDownload_Clone(t *testing.T) {
	download := NewDownload(testIdentity(), "https://cdn.example.com/v.mp4", "/tmp/v.mp4", "")
	download.MarkRunning()

	clone := download.Clone()
	clone.Status = StatusPaused
	*clone.StartedAt = clone.StartedAt.Add(1)

	assert.Equal(t, StatusRunning, download.Status)
	assert.NotEqual(t, *download.StartedAt, *clone.StartedAt)
}

func TestSnapshotOf(t *testing.T) {
	download := NewDownload(testIdentity(), "https://cdn.example.com/v.mp4", "/tmp/v.mp4", "")
	download.MarkRunning()
	download.UpdateProgress(100)

	snap := SnapshotOf(download, download.UpdatedAt)
	assert.Nil(t, snap.Percent, "percent must be omitted while the total is unknown")
	assert.Equal(t, int64(100), snap.BytesDownloadedSoFar)

	download.TotalSizeBytes = 400
	snap = SnapshotOf(download, download.UpdatedAt)
	require.NotNil(t, snap.Percent)
	assert.InDelta(t, 25.0, *snap.Percent, 0.001)
}

func TestTransferError(t *testing.T) {
	err := TransferError(errors.New("disk full"))
	assert.ErrorIs(t, err, ErrTransferIO)
	assert.Contains(t, err.Error(), "disk full")

	assert.Same(t, err, TransferError(err))
	assert.NoError(t, TransferError(nil))
}

func TestSchemaMigrationError(t *testing.T) {
	cause := errors.New("table locked")
	err := error(&SchemaMigrationError{Version: 3, Name: "add remote etag", Err: cause})

	assert.ErrorIs(t, err, ErrSchemaMigration)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "schema migration 3")
}
