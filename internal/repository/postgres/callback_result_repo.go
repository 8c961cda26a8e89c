package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"upqueue/internal/domain"
	"upqueue/internal/port"
)

type callbackResultRepo struct {
	db *sqlx.DB
}

// NewCallbackResultRepo creates a PostgreSQL-backed ResultStore. Terminal
// results and per-listener deliveries survive process restarts.
func NewCallbackResultRepo(db *sqlx.DB) port.ResultStore {
	return &callbackResultRepo{db: db}
}

type resultRow struct {
	RequestID   string          `db:"request_id"`
	Result      json.RawMessage `db:"result"`
	CompletedAt time.Time       `db:"completed_at"`
}

func (row resultRow) record() (domain.TerminalRecord, error) {
	rec := domain.TerminalRecord{RequestID: row.RequestID, CompletedAt: row.CompletedAt}
	if err := json.Unmarshal(row.Result, &rec.Result); err != nil {
		return rec, fmt.Errorf("decoding result %s: %w", row.RequestID, err)
	}
	return rec, nil
}

func (r *callbackResultRepo) SaveResult(ctx context.Context, rec domain.TerminalRecord) error {
	data, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("callbackResultRepo.SaveResult marshal: %w", err)
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	// A request id has one terminal result; a second write is ignored.
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO callback_results (request_id, result, completed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (request_id) DO NOTHING`,
		rec.RequestID, json.RawMessage(data), rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("callbackResultRepo.SaveResult: %w", err)
	}
	return nil
}

func (r *callbackResultRepo) GetResult(ctx context.Context, requestID string) (*domain.TerminalRecord, error) {
	var row resultRow
	err := r.db.GetContext(ctx, &row,
		"SELECT request_id, result, completed_at FROM callback_results WHERE request_id = $1", requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("callbackResultRepo.GetResult: %w", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, fmt.Errorf("callbackResultRepo.GetResult: %w", err)
	}
	return &rec, nil
}

func (r *callbackResultRepo) ListResults(ctx context.Context, since time.Time, limit int) ([]domain.TerminalRecord, error) {
	var rows []resultRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT request_id, result, completed_at FROM (
			SELECT request_id, result, completed_at FROM callback_results
			WHERE completed_at >= $1
			ORDER BY completed_at DESC
			LIMIT $2
		 ) recent
		 ORDER BY completed_at`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("callbackResultRepo.ListResults: %w", err)
	}
	recs := make([]domain.TerminalRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("callbackResultRepo.ListResults: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *callbackResultRepo) MarkDelivered(ctx context.Context, requestID, listener string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO callback_deliveries (request_id, listener, delivered_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (request_id, listener) DO NOTHING`,
		requestID, listener, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("callbackResultRepo.MarkDelivered: %w", err)
	}
	return nil
}

func (r *callbackResultRepo) UnmarkDelivered(ctx context.Context, requestID, listener string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM callback_deliveries WHERE request_id = $1 AND listener = $2", requestID, listener)
	if err != nil {
		return fmt.Errorf("callbackResultRepo.UnmarkDelivered: %w", err)
	}
	return nil
}

func (r *callbackResultRepo) Delivered(ctx context.Context, listener string, since time.Time) (map[string]bool, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		"SELECT request_id FROM callback_deliveries WHERE listener = $1 AND delivered_at >= $2", listener, since)
	if err != nil {
		return nil, fmt.Errorf("callbackResultRepo.Delivered: %w", err)
	}
	delivered := make(map[string]bool, len(ids))
	for _, id := range ids {
		delivered[id] = true
	}
	return delivered, nil
}

func (r *callbackResultRepo) DeleteResult(ctx context.Context, requestID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM callback_results WHERE request_id = $1", requestID)
	if err != nil {
		return fmt.Errorf("callbackResultRepo.DeleteResult: %w", err)
	}
	return nil
}
