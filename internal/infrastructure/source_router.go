package infrastructure

import (
	"context"
	"fmt"
	"io"

	"github.com/Guna-13/xikolo-android/internal/domain"
)

// SourceRouter dispatches each download uri to the first source supporting it
type SourceRouter struct {
	sources []domain.RemoteSource
}

// NewSourceRouter creates a router over the given sources, consulted in order
func NewSourceRouter(sources ...domain.RemoteSource) *SourceRouter {
	return &SourceRouter{sources: sources}
}

func (r *SourceRouter) route(uri string) (domain.RemoteSource, error) {
	for _, s := range r.sources {
		if s.Supports(uri) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no source for %q", domain.ErrInvalidURI, uri)
}

// Supports reports whether any source can serve uri
func (r *SourceRouter) Supports(uri string) bool {
	_, err := r.route(uri)
	return err == nil
}

// Probe forwards to the matching source
func (r *SourceRouter) Probe(ctx context.Context, uri string) (domain.RemoteInfo, error) {
	s, err := r.route(uri)
	if err != nil {
		return domain.RemoteInfo{Size: domain.SizeUnknown}, err
	}
	return s.Probe(ctx, uri)
}

// Open forwards to the matching source
func (r *SourceRouter) Open(ctx context.Context, uri string, offset int64) (io.ReadCloser, int64, error) {
	s, err := r.route(uri)
	if err != nil {
		return nil, 0, err
	}
	return s.Open(ctx, uri, offset)
}
