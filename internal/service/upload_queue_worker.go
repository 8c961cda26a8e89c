package service

import (
	"context"
	"log"
	"sync"
	"time"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

// UploadQueueConfig holds settings for the upload queue worker.
type UploadQueueConfig struct {
	PollInterval   time.Duration
	Concurrency    int
	AttemptTimeout time.Duration
	// StaleAfter is how long a request may sit in processing before it is
	// assumed orphaned by a crashed process and requeued on startup.
	StaleAfter time.Duration
}

// UploadQueueWorker polls for due upload requests and runs one attempt of each.
// It is the scheduler for the request processor: reschedules are persisted with
// their backoff and picked up again on a later poll.
type UploadQueueWorker struct {
	repo      port.UploadRequestRepository
	processor RequestProcessor
	network   port.NetworkChecker
	cfg       UploadQueueConfig
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewUploadQueueWorker creates a new UploadQueueWorker. network may be nil, in
// which case the network precondition is always considered met.
func NewUploadQueueWorker(
	repo port.UploadRequestRepository,
	processor RequestProcessor,
	network port.NetworkChecker,
	cfg UploadQueueConfig,
) *UploadQueueWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Minute
	}
	return &UploadQueueWorker{
		repo:      repo,
		processor: processor,
		network:   network,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start runs the polling loop until ctx is canceled. It blocks until all
// in-flight attempts have finished.
func (w *UploadQueueWorker) Start(ctx context.Context) {
	if w.cfg.StaleAfter > 0 {
		n, err := w.repo.RequeueStale(ctx, w.now().Add(-w.cfg.StaleAfter))
		if err != nil {
			log.Printf("uploadQueueWorker: RequeueStale error: %v", err)
		} else if n > 0 {
			log.Printf("uploadQueueWorker: requeued %d stale requests", n)
		}
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)

	log.Printf("uploadQueueWorker: started (poll=%s, concurrency=%d, timeout=%s)",
		w.cfg.PollInterval, w.cfg.Concurrency, w.cfg.AttemptTimeout)

	for {
		select {
		case <-ctx.Done():
			log.Printf("uploadQueueWorker: shutting down, waiting for in-flight uploads...")
			w.wg.Wait()
			log.Printf("uploadQueueWorker: shutdown complete")
			return
		case <-ticker.C:
			available := w.cfg.Concurrency - len(sem)
			if available <= 0 {
				continue
			}

			reqs, err := w.repo.ClaimDue(ctx, w.now(), available)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("uploadQueueWorker: ClaimDue error: %v", err)
				continue
			}

			for i := range reqs {
				req := reqs[i]

				sem <- struct{}{}
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.run(&req)
				}()
			}
		}
	}
}

func (w *UploadQueueWorker) run(req *domain.UploadRequest) {
	// In-flight attempts finish even during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.AttemptTimeout)
	defer cancel()

	if req.RequiresNetwork() && w.network != nil && !w.network.Online(ctx) {
		req.Attempts--
		log.Printf("uploadQueueWorker: request %s waiting for network", req.ID)
		w.persist(req.ID, "Reschedule", func(ctx context.Context) error {
			return w.repo.Reschedule(ctx, req, w.now().Add(w.cfg.PollInterval))
		})
		return
	}

	log.Printf("uploadQueueWorker: dispatching request %s (attempt %d)", req.ID, req.Attempts)
	status := w.processor.ProcessRequest(ctx, req.Params)

	switch status.Outcome {
	case domain.OutcomeReschedule:
		req.LastError = status.Code
		next := w.now().Add(status.RetryAfter)
		log.Printf("uploadQueueWorker: request %s rescheduled for %s (%s)", req.ID, next.Format(time.RFC3339), status.Code)
		w.persist(req.ID, "Reschedule", func(ctx context.Context) error {
			return w.repo.Reschedule(ctx, req, next)
		})
	case domain.OutcomeSuccess:
		w.persist(req.ID, "Complete", func(ctx context.Context) error {
			return w.repo.Complete(ctx, req.ID, domain.RequestStatusSucceeded, domain.NoError)
		})
	default:
		log.Printf("uploadQueueWorker: request %s failed: %s", req.ID, status.Code)
		w.persist(req.ID, "Complete", func(ctx context.Context) error {
			return w.repo.Complete(ctx, req.ID, domain.RequestStatusFailed, status.Code)
		})
	}
}

// persist runs a state write on its own context; the attempt context may
// already be expired.
func (w *UploadQueueWorker) persist(id, op string, write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := write(ctx); err != nil {
		log.Printf("uploadQueueWorker: %s error for request %s: %v", op, id, err)
	}
}
