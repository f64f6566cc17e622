package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BlobScheme is the URI scheme served by BlobSource, as in blob:///course/video.mp4
const BlobScheme = "blob"

// BlobSource serves downloads from a pre-provisioned bucket
type BlobSource struct {
	bucket *blob.Bucket
}

// OpenBlobSource opens the bucket at bucketURL (file://, mem://)
func OpenBlobSource(ctx context.Context, bucketURL string) (*BlobSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return NewBlobSource(bucket), nil
}

// NewBlobSource wraps an already opened bucket
func NewBlobSource(bucket *blob.Bucket) *BlobSource {
	return &BlobSource{bucket: bucket}
}

// Supports reports whether uri is a blob:/// key
func (s *BlobSource) Supports(uri string) bool {
	_, err := blobKey(uri)
	return err == nil
}

// Probe returns the object size and entity tag
func (s *BlobSource) Probe(ctx context.Context, uri string) (domain.RemoteInfo, error) {
	info := domain.RemoteInfo{Size: domain.SizeUnknown}
	key, err := blobKey(uri)
	if err != nil {
		return info, err
	}

	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return info, blobError(key, err)
	}
	if attrs.Size > 0 {
		info.Size = attrs.Size
	}
	info.ETag = attrs.ETag
	return info, nil
}

// Open reads the object starting at offset
func (s *BlobSource) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error) {
	key, err := blobKey(uri)
	if err != nil {
		return nil, 0, err
	}
	r, err := s.bucket.NewRangeReader(ctx, key, offset, -1, nil)
	if err != nil {
		return nil, 0, blobError(key, err)
	}
	return r, offset, nil
}

// Close closes the bucket
func (s *BlobSource) Close() error {
	return s.bucket.Close()
}

func blobKey(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidURI, err)
	}
	if u.Scheme != BlobScheme || u.Host != "" {
		return "", fmt.Errorf("%w: %q is not a blob uri", domain.ErrInvalidURI, uri)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("%w: %q has no object key", domain.ErrInvalidURI, uri)
	}
	return key, nil
}

func blobError(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: blob %q", domain.ErrNotFound, key)
	}
	return fmt.Errorf("blob %q: %w", key, err)
}
