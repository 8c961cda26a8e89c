// Package payload declares the data sources an upload can be built from and
// resolves them into readable byte streams of known length.
package payload

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"upqueue/internal/domain"
)

// Kind identifies a payload variant.
type Kind string

const (
	KindFile      Kind = "file"
	KindByteArray Kind = "bytes"
	KindLocalURI  Kind = "uri"
	KindResource  Kind = "resource"
)

const schemeSep = "://"

// Source is a resolved payload ready for transfer. Nothing has been read from
// it yet.
type Source struct {
	io.ReadCloser
	Size        int64
	Name        string
	ContentType string
}

// Payload is one declared upload source.
type Payload interface {
	Kind() Kind
	// Encode returns the descriptor that Decode turns back into an equal payload.
	Encode() string
	// Resolve opens the payload. Failures wrap the variant's domain error.
	Resolve(ctx context.Context, rc *ResolveContext) (*Source, error)
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
)

// Decode parses a descriptor produced by Encode.
func Decode(descriptor string) (Payload, error) {
	if strings.TrimSpace(descriptor) == "" {
		return nil, domain.ErrPayloadEmpty
	}
	scheme, data, ok := strings.Cut(descriptor, schemeSep)
	if !ok {
		return nil, fmt.Errorf("%w: missing scheme in %q", domain.ErrPayloadLoadFailure, descriptor)
	}

	switch Kind(scheme) {
	case KindFile:
		path, err := url.PathUnescape(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPayloadLoadFailure, err)
		}
		return File{Path: path}, nil
	case KindLocalURI:
		raw, err := url.PathUnescape(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPayloadLoadFailure, err)
		}
		return LocalURI{URI: raw}, nil
	case KindByteArray:
		if data == "" {
			return ByteArray{Data: []byte{}}, nil
		}
		compressed, err := base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPayloadLoadFailure, err)
		}
		raw, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPayloadLoadFailure, err)
		}
		return ByteArray{Data: raw}, nil
	case KindResource:
		id, err := strconv.Atoi(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPayloadLoadFailure, err)
		}
		return Resource{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", domain.ErrPayloadLoadFailure, scheme)
	}
}

func encode(kind Kind, data string) string {
	return string(kind) + schemeSep + data
}
