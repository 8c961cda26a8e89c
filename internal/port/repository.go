package port

import (
	"context"
	"time"

	"upqueue/internal/domain"
)

// UploadRequestRepository defines the contract for upload request persistence.
type UploadRequestRepository interface {
	Create(ctx context.Context, req *domain.UploadRequest) error
	GetByID(ctx context.Context, id string) (*domain.UploadRequest, error)
	List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error)
	// ClaimDue atomically moves up to limit pending requests whose next run
	// time has passed into processing and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.UploadRequest, error)
	// Reschedule stores the updated params and puts the request back to pending.
	Reschedule(ctx context.Context, req *domain.UploadRequest, nextRunAt time.Time) error
	// Complete marks the request terminal.
	Complete(ctx context.Context, id string, status domain.RequestStatus, code domain.ErrorCode) error
	// Cancel moves a pending request to canceled. Returns domain.ErrNotCancelable otherwise.
	Cancel(ctx context.Context, id string) error
	// RequeueStale returns requests stuck in processing since before cutoff to pending.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)
	// PurgeFinished deletes up to limit terminal requests last updated before
	// cutoff and returns their ids.
	PurgeFinished(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// ResultStore persists terminal results and the listener identities that have
// already received them.
type ResultStore interface {
	SaveResult(ctx context.Context, rec domain.TerminalRecord) error
	GetResult(ctx context.Context, requestID string) (*domain.TerminalRecord, error)
	// ListResults returns at most limit of the most recent results completed
	// at or after since, oldest first.
	ListResults(ctx context.Context, since time.Time, limit int) ([]domain.TerminalRecord, error)
	MarkDelivered(ctx context.Context, requestID, listener string) error
	// UnmarkDelivered forgets that listener received requestID's result.
	UnmarkDelivered(ctx context.Context, requestID, listener string) error
	// Delivered returns the request ids delivered to listener at or after since.
	Delivered(ctx context.Context, listener string, since time.Time) (map[string]bool, error)
	DeleteResult(ctx context.Context, requestID string) error
}
