package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"upqueue/internal/dispatch"
	"upqueue/internal/domain"
	"upqueue/internal/params"
	"upqueue/internal/service"
)

// statefulCallback remembers what it was told about each request.
type statefulCallback struct {
	mu          sync.Mutex
	started     []string
	progress    map[string][]int64
	successes   map[string]map[string]interface{}
	errors      map[string][]domain.ErrorCode
	reschedules map[string][]domain.ErrorCode
}

func newStatefulCallback() *statefulCallback {
	return &statefulCallback{
		progress:    map[string][]int64{},
		successes:   map[string]map[string]interface{}{},
		errors:      map[string][]domain.ErrorCode{},
		reschedules: map[string][]domain.ErrorCode{},
	}
}

func (c *statefulCallback) OnStart(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, id)
}

func (c *statefulCallback) OnProgress(id string, bytes, _ int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[id] = append(c.progress[id], bytes)
}

func (c *statefulCallback) OnSuccess(id string, data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes[id] = data
}

func (c *statefulCallback) OnError(id string, code domain.ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[id] = append(c.errors[id], code)
}

func (c *statefulCallback) OnReschedule(id string, code domain.ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reschedules[id] = append(c.reschedules[id], code)
}

func (c *statefulCallback) errorsFor(id string) []domain.ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ErrorCode(nil), c.errors[id]...)
}

func (c *statefulCallback) reschedulesFor(id string) []domain.ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ErrorCode(nil), c.reschedules[id]...)
}

func (c *statefulCallback) successFor(id string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.successes[id]
	return data, ok
}

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	store, err := dispatch.NewMemoryResultStore(64)
	require.NoError(t, err)
	return dispatch.NewDispatcher(store)
}

func newParams(t *testing.T, requestID string, options map[string]interface{}, descriptor string) *params.Bag {
	t.Helper()
	bag := params.New()
	bag.PutString(params.KeyRequestID, requestID)
	encoded, err := service.EncodeOptions(options)
	require.NoError(t, err)
	bag.PutString(params.KeyOptions, encoded)
	if descriptor != "" {
		bag.PutString(params.KeyPayload, descriptor)
	}
	return bag
}

func writeAsset(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

var bg = context.Background()
