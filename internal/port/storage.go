package port

import (
	"context"
	"io"
)

// UploadInput encapsulates the parameters needed to upload an object.
type UploadInput struct {
	Bucket      string
	Key         string
	Body        io.Reader
	ContentType string
	Size        int64
	Metadata    map[string]string
	// Progress, when set, is called with the cumulative number of bytes read from Body.
	Progress func(bytes int64)
}

// UploadOutput contains the result of a successful upload.
type UploadOutput struct {
	Location  string
	ETag      string
	VersionID string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// ObjectStorage abstracts cloud object storage operations.
type ObjectStorage interface {
	Upload(ctx context.Context, input UploadInput) (*UploadOutput, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, *ObjectInfo, error)
	GetPresignedURL(ctx context.Context, bucket, key string, expirySeconds int64) (string, error)
}
