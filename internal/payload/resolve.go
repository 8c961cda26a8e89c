package payload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"upqueue/internal/domain"
)

// ContentResolver opens content addressed by a URI of one scheme. A missing
// object is reported as domain.ErrURIDoesNotExist.
type ContentResolver interface {
	Open(ctx context.Context, uri *url.URL) (*Source, error)
}

// ResourceTable maps bundled resource ids to files on disk.
type ResourceTable map[int]string

// LoadResourceTable indexes dir. Every regular file whose name starts with a
// non-negative integer followed by '_' or '.' (e.g. "12_logo.png", "7.jpg")
// is registered under that integer.
func LoadResourceTable(dir string) (ResourceTable, error) {
	table := ResourceTable{}
	if dir == "" {
		return table, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return table, nil
		}
		return nil, fmt.Errorf("reading resource dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		end := strings.IndexAny(name, "_.")
		if end <= 0 {
			continue
		}
		id, err := strconv.Atoi(name[:end])
		if err != nil || id < 0 {
			continue
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("duplicate resource id %d in %s", id, dir)
		}
		table[id] = filepath.Join(dir, name)
	}
	return table, nil
}

// ResolveContext carries what payload resolution needs from its environment.
type ResolveContext struct {
	mu        sync.RWMutex
	resources ResourceTable
	resolvers map[string]ContentResolver
}

// NewResolveContext creates a ResolveContext with the local file resolver
// registered for the "file" scheme.
func NewResolveContext(resources ResourceTable) *ResolveContext {
	if resources == nil {
		resources = ResourceTable{}
	}
	return &ResolveContext{
		resources: resources,
		resolvers: map[string]ContentResolver{"file": FileResolver{}},
	}
}

// Register installs a resolver for scheme, replacing any previous one.
func (rc *ResolveContext) Register(scheme string, r ContentResolver) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.resolvers[strings.ToLower(scheme)] = r
}

func (rc *ResolveContext) resolver(scheme string) ContentResolver {
	if rc == nil {
		return nil
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.resolvers[strings.ToLower(scheme)]
}

func (rc *ResolveContext) resource(id int) (string, bool) {
	if rc == nil || id < 0 {
		return "", false
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	path, ok := rc.resources[id]
	return path, ok
}

// FileResolver opens file:// URIs from the local filesystem.
type FileResolver struct{}

func (FileResolver) Open(_ context.Context, uri *url.URL) (*Source, error) {
	path := uri.Path
	if path == "" {
		path = uri.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", domain.ErrURIDoesNotExist)
	}
	src, err := openFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrURIDoesNotExist, err)
	}
	return src, nil
}
