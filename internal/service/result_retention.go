package service

import (
	"context"
	"log"
	"time"

	"upqueue/internal/port"
)

// ResultForgetter drops a stored terminal result. *dispatch.Dispatcher
// implements it.
type ResultForgetter interface {
	Forget(ctx context.Context, requestID string) error
}

// RetentionConfig holds settings for the retention sweeper.
type RetentionConfig struct {
	// Retention is how long a finished request is kept after its last update.
	Retention time.Duration
	Interval  time.Duration
	// BatchSize bounds one purge statement.
	BatchSize int
}

// ResultRetention periodically deletes finished upload requests and forgets
// their terminal results so replays and the requests table stay bounded.
type ResultRetention struct {
	repo    port.UploadRequestRepository
	results ResultForgetter
	cfg     RetentionConfig
	now     func() time.Time
}

// NewResultRetention creates a new ResultRetention.
func NewResultRetention(repo port.UploadRequestRepository, results ResultForgetter, cfg RetentionConfig) *ResultRetention {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &ResultRetention{repo: repo, results: results, cfg: cfg, now: time.Now}
}

// Start sweeps once immediately and then every interval until ctx is canceled.
func (r *ResultRetention) Start(ctx context.Context) {
	log.Printf("resultRetention: started (retention=%s, interval=%s)", r.cfg.Retention, r.cfg.Interval)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.Sweep(ctx)
		select {
		case <-ctx.Done():
			log.Printf("resultRetention: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep purges finished requests older than the retention period, one batch at
// a time, and returns how many were removed.
func (r *ResultRetention) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.cfg.Retention)
	purged := 0
	for ctx.Err() == nil {
		ids, err := r.repo.PurgeFinished(ctx, cutoff, r.cfg.BatchSize)
		if err != nil {
			log.Printf("resultRetention: PurgeFinished error: %v", err)
			break
		}
		for _, id := range ids {
			if err := r.results.Forget(ctx, id); err != nil {
				log.Printf("resultRetention: Forget error for request %s: %v", id, err)
			}
		}
		purged += len(ids)
		if len(ids) < r.cfg.BatchSize {
			break
		}
	}
	if purged > 0 {
		log.Printf("resultRetention: purged %d requests finished before %s", purged, cutoff.Format(time.RFC3339))
	}
	return purged
}
