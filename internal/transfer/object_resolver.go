package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"upqueue/internal/domain"
	"upqueue/internal/payload"
	"upqueue/internal/port"
)

// ObjectResolver resolves s3://bucket/key URIs against object storage.
type ObjectResolver struct {
	storage port.ObjectStorage
}

// NewObjectResolver creates an ObjectResolver.
func NewObjectResolver(storage port.ObjectStorage) *ObjectResolver {
	return &ObjectResolver{storage: storage}
}

func (r *ObjectResolver) Open(ctx context.Context, uri *url.URL) (*payload.Source, error) {
	bucket := uri.Host
	key := strings.TrimPrefix(uri.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %s has no bucket or key", domain.ErrURIDoesNotExist, uri)
	}

	body, info, err := r.storage.Open(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrURIDoesNotExist, uri)
		}
		return nil, err
	}
	return &payload.Source{
		ReadCloser:  body,
		Size:        info.Size,
		Name:        path.Base(key),
		ContentType: info.ContentType,
	}, nil
}
