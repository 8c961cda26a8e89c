package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

type uploadRequestRepo struct {
	db *sqlx.DB
}

// NewUploadRequestRepo creates a new PostgreSQL-backed UploadRequestRepository.
func NewUploadRequestRepo(db *sqlx.DB) port.UploadRequestRepository {
	return &uploadRequestRepo{db: db}
}

const uploadRequestColumns = `id, params, status, attempts, last_error, next_run_at, created_at, updated_at`

func (r *uploadRequestRepo) Create(ctx context.Context, req *domain.UploadRequest) error {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.NextRunAt.IsZero() {
		req.NextRunAt = now
	}
	if req.Status == "" {
		req.Status = domain.RequestStatusPending
	}

	query := `INSERT INTO upload_requests (` + uploadRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.Params, req.Status, req.Attempts, req.LastError,
		req.NextRunAt, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("uploadRequestRepo.Create: %w", err)
	}
	return nil
}

func (r *uploadRequestRepo) GetByID(ctx context.Context, id string) (*domain.UploadRequest, error) {
	var req domain.UploadRequest
	err := r.db.GetContext(ctx, &req,
		"SELECT "+uploadRequestColumns+" FROM upload_requests WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("uploadRequestRepo.GetByID: %w", err)
	}
	return &req, nil
}

func (r *uploadRequestRepo) List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM upload_requests WHERE ($1::text = '' OR status = $1::text)", status)
	if err != nil {
		return nil, 0, fmt.Errorf("uploadRequestRepo.List count: %w", err)
	}

	var reqs []domain.UploadRequest
	err = r.db.SelectContext(ctx, &reqs,
		`SELECT `+uploadRequestColumns+` FROM upload_requests WHERE ($1::text = '' OR status = $1::text)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("uploadRequestRepo.List: %w", err)
	}
	return reqs, total, nil
}

func (r *uploadRequestRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.UploadRequest, error) {
	var reqs []domain.UploadRequest
	err := r.db.SelectContext(ctx, &reqs,
		`UPDATE upload_requests
		 SET status = $1, attempts = attempts + 1, updated_at = $3
		 WHERE id IN (
			SELECT id FROM upload_requests
			WHERE status = $2 AND next_run_at <= $3
			ORDER BY next_run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+uploadRequestColumns,
		domain.RequestStatusProcessing, domain.RequestStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("uploadRequestRepo.ClaimDue: %w", err)
	}
	return reqs, nil
}

func (r *uploadRequestRepo) Reschedule(ctx context.Context, req *domain.UploadRequest, nextRunAt time.Time) error {
	req.Status = domain.RequestStatusPending
	req.NextRunAt = nextRunAt.UTC()
	req.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_requests
		 SET params = $2, status = $3, attempts = $4, last_error = $5, next_run_at = $6, updated_at = $7
		 WHERE id = $1`,
		req.ID, req.Params, req.Status, req.Attempts, req.LastError, req.NextRunAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("uploadRequestRepo.Reschedule: %w", err)
	}
	return expectOneRow(result, "uploadRequestRepo.Reschedule")
}

func (r *uploadRequestRepo) Complete(ctx context.Context, id string, status domain.RequestStatus, code domain.ErrorCode) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_requests SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1`,
		id, status, code, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("uploadRequestRepo.Complete: %w", err)
	}
	return expectOneRow(result, "uploadRequestRepo.Complete")
}

func (r *uploadRequestRepo) Cancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_requests SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, domain.RequestStatusCanceled, time.Now().UTC(), domain.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("uploadRequestRepo.Cancel: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("uploadRequestRepo.Cancel rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM upload_requests WHERE id = $1)", id); err != nil {
		return fmt.Errorf("uploadRequestRepo.Cancel exists: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrNotCancelable
}

func (r *uploadRequestRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_requests SET status = $1, next_run_at = $3, updated_at = $3
		 WHERE status = $2 AND updated_at < $4`,
		domain.RequestStatusPending, domain.RequestStatusProcessing, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("uploadRequestRepo.RequeueStale: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("uploadRequestRepo.RequeueStale rows: %w", err)
	}
	return int(rows), nil
}

func expectOneRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *uploadRequestRepo) PurgeFinished(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`DELETE FROM upload_requests
		 WHERE id IN (
			SELECT id FROM upload_requests
			WHERE status IN ($1, $2, $3) AND updated_at < $4
			ORDER BY updated_at
			LIMIT $5
		 )
		 RETURNING id`,
		domain.RequestStatusSucceeded, domain.RequestStatusFailed, domain.RequestStatusCanceled,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("uploadRequestRepo.PurgeFinished: %w", err)
	}
	return ids, nil
}
