package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"upqueue/internal/domain"
)

// DefaultMemoryResults is the number of terminal results a MemoryResultStore keeps.
const DefaultMemoryResults = 1024

// MemoryResultStore is a process-local ResultStore holding the most recent
// terminal results. Evicting a result also drops its delivery marks.
type MemoryResultStore struct {
	mu        sync.Mutex
	results   *lru.Cache[string, domain.TerminalRecord]
	delivered map[string]map[string]bool // listener -> request ids
}

// NewMemoryResultStore creates a store retaining up to size results.
func NewMemoryResultStore(size int) (*MemoryResultStore, error) {
	if size <= 0 {
		size = DefaultMemoryResults
	}
	s := &MemoryResultStore{delivered: make(map[string]map[string]bool)}
	// onEvict runs inside cache calls made with s.mu held.
	cache, err := lru.NewWithEvict[string, domain.TerminalRecord](size, func(requestID string, _ domain.TerminalRecord) {
		for _, ids := range s.delivered {
			delete(ids, requestID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	s.results = cache
	return s, nil
}

func (s *MemoryResultStore) SaveResult(_ context.Context, rec domain.TerminalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results.Add(rec.RequestID, rec)
	return nil
}

func (s *MemoryResultStore) GetResult(_ context.Context, requestID string) (*domain.TerminalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.results.Peek(requestID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryResultStore) ListResults(_ context.Context, since time.Time, limit int) ([]domain.TerminalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Values is ordered by insertion, which is completion order.
	var recs []domain.TerminalRecord
	for _, rec := range s.results.Values() {
		if !rec.CompletedAt.Before(since) {
			recs = append(recs, rec)
		}
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (s *MemoryResultStore) MarkDelivered(_ context.Context, requestID, listener string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.delivered[listener]
	if !ok {
		ids = make(map[string]bool)
		s.delivered[listener] = ids
	}
	ids[requestID] = true
	return nil
}

func (s *MemoryResultStore) UnmarkDelivered(_ context.Context, requestID, listener string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delivered[listener], requestID)
	return nil
}

// Delivered ignores since; the cache size already bounds the history.
func (s *MemoryResultStore) Delivered(_ context.Context, listener string, _ time.Time) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.delivered[listener]))
	for id := range s.delivered[listener] {
		out[id] = true
	}
	return out, nil
}

func (s *MemoryResultStore) DeleteResult(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results.Remove(requestID)
	for _, ids := range s.delivered {
		delete(ids, requestID)
	}
	return nil
}
