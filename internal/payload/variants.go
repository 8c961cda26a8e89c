package payload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"upqueue/internal/domain"
)

// File is a payload read from a path on the local filesystem.
type File struct {
	Path string
}

func (File) Kind() Kind { return KindFile }

func (f File) Encode() string {
	return encode(KindFile, url.PathEscape(f.Path))
}

func (f File) Resolve(_ context.Context, _ *ResolveContext) (*Source, error) {
	src, err := openFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrFileDoesNotExist, f.Path, err)
	}
	return src, nil
}

// ByteArray is an in-memory payload.
type ByteArray struct {
	Data []byte
}

func (ByteArray) Kind() Kind { return KindByteArray }

func (b ByteArray) Encode() string {
	if len(b.Data) == 0 {
		return encode(KindByteArray, "")
	}
	compressed := zstdEncoder.EncodeAll(b.Data, nil)
	return encode(KindByteArray, base64.RawURLEncoding.EncodeToString(compressed))
}

func (b ByteArray) Resolve(_ context.Context, _ *ResolveContext) (*Source, error) {
	if len(b.Data) == 0 {
		return nil, domain.ErrByteArrayPayloadEmpty
	}
	return &Source{
		ReadCloser: io.NopCloser(bytes.NewReader(b.Data)),
		Size:       int64(len(b.Data)),
		Name:       "bytes",
	}, nil
}

// LocalURI is a payload addressed by URI and opened through the content
// resolver registered for its scheme.
type LocalURI struct {
	URI string
}

func (LocalURI) Kind() Kind { return KindLocalURI }

func (u LocalURI) Encode() string {
	return encode(KindLocalURI, url.PathEscape(u.URI))
}

func (u LocalURI) Resolve(ctx context.Context, rc *ResolveContext) (*Source, error) {
	parsed, err := url.Parse(u.URI)
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute uri", domain.ErrURIDoesNotExist, u.URI)
	}
	resolver := rc.resolver(parsed.Scheme)
	if resolver == nil {
		return nil, fmt.Errorf("%w: no resolver for scheme %q", domain.ErrURIDoesNotExist, parsed.Scheme)
	}
	src, err := resolver.Open(ctx, parsed)
	if err != nil {
		if errors.Is(err, domain.ErrURIDoesNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrURIDoesNotExist, u.URI, err)
	}
	return src, nil
}

// Resource is a payload bundled with the service and looked up by id.
type Resource struct {
	ID int
}

func (Resource) Kind() Kind { return KindResource }

func (r Resource) Encode() string {
	return encode(KindResource, strconv.Itoa(r.ID))
}

func (r Resource) Resolve(_ context.Context, rc *ResolveContext) (*Source, error) {
	path, ok := rc.resource(r.ID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrResourceDoesNotExist, r.ID)
	}
	src, err := openFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d: %v", domain.ErrResourceDoesNotExist, r.ID, err)
	}
	return src, nil
}

func openFile(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "open", Path: path, Err: errors.New("not a regular file")}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Source{
		ReadCloser: f,
		Size:       info.Size(),
		Name:       filepath.Base(path),
	}, nil
}
