// Package transfer implements the transfer collaborators that move resolved
// payloads to their destination.
package transfer

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"

	units "github.com/docker/go-units"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

// ObjectStorageConfig configures an ObjectStorageTransfer.
type ObjectStorageConfig struct {
	Bucket      string
	KeyPrefix   string
	MaxFileSize int64
	// PresignExpiry, when positive, adds a presigned download URL valid for
	// that many seconds to the result.
	PresignExpiry int64
}

// ObjectStorageTransfer uploads payloads to object storage. The object key is
// derived from the request id so that retries of the same request overwrite
// the same object.
type ObjectStorageTransfer struct {
	storage port.ObjectStorage
	cfg     ObjectStorageConfig
}

// NewObjectStorageTransfer creates an ObjectStorageTransfer.
func NewObjectStorageTransfer(storage port.ObjectStorage, cfg ObjectStorageConfig) *ObjectStorageTransfer {
	return &ObjectStorageTransfer{storage: storage, cfg: cfg}
}

func (t *ObjectStorageTransfer) Transfer(ctx context.Context, input port.TransferInput) (map[string]interface{}, error) {
	if t.cfg.MaxFileSize > 0 && input.Size > t.cfg.MaxFileSize {
		return nil, port.Fatal(0, fmt.Errorf("%w: %s exceeds %s", domain.ErrFileTooLarge,
			units.HumanSize(float64(input.Size)), units.HumanSize(float64(t.cfg.MaxFileSize))))
	}

	publicID := publicIDFor(input)
	key := path.Join(t.cfg.KeyPrefix, publicID)
	if input.Name != "" {
		if ext := path.Ext(input.Name); ext != "" {
			key += ext
		}
	}

	metadata := map[string]string{"request-id": input.RequestID}
	if input.Signature != nil {
		metadata["signature"] = input.Signature.Value
		metadata["api-key"] = input.Signature.APIKey
	}
	for k, v := range input.Options {
		if s, ok := v.(string); ok && strings.HasPrefix(k, "meta_") {
			metadata[strings.TrimPrefix(k, "meta_")] = s
		}
	}

	var progress func(int64)
	if input.Progress != nil {
		progress = func(n int64) { input.Progress(n, input.Size) }
	}

	log.Printf("objectStorageTransfer.Transfer: uploading %s (%s) to %s/%s",
		input.RequestID, units.HumanSize(float64(input.Size)), t.cfg.Bucket, key)

	out, err := t.storage.Upload(ctx, port.UploadInput{
		Bucket:      t.cfg.Bucket,
		Key:         key,
		Body:        input.Body,
		ContentType: contentTypeFor(input),
		Size:        input.Size,
		Metadata:    metadata,
		Progress:    progress,
	})
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"public_id": publicID,
		"bucket":    t.cfg.Bucket,
		"key":       key,
		"url":       out.Location,
		"etag":      strings.Trim(out.ETag, `"`),
		"bytes":     input.Size,
	}
	if out.VersionID != "" {
		result["version"] = out.VersionID
	}
	if t.cfg.PresignExpiry > 0 {
		signed, err := t.storage.GetPresignedURL(ctx, t.cfg.Bucket, key, t.cfg.PresignExpiry)
		if err != nil {
			log.Printf("objectStorageTransfer.Transfer: presigning %s: %v", key, err)
		} else {
			result["secure_url"] = signed
		}
	}
	return result, nil
}

func publicIDFor(input port.TransferInput) string {
	if id, ok := input.Options["public_id"].(string); ok && id != "" {
		return id
	}
	if folder, ok := input.Options["folder"].(string); ok && folder != "" {
		return path.Join(folder, input.RequestID)
	}
	return input.RequestID
}

func contentTypeFor(input port.TransferInput) string {
	if ct, ok := input.Options["content_type"].(string); ok && ct != "" {
		return ct
	}
	return input.ContentType
}
