package domain

import (
	"time"

	"upqueue/internal/params"
)

// UploadResult is the terminal outcome of one logical upload. Data is set only
// on success; Error is NoError exactly when the upload succeeded.
type UploadResult struct {
	Data  map[string]interface{} `json:"data,omitempty"`
	Error ErrorCode              `json:"error"`
}

// SuccessResult builds a successful UploadResult.
func SuccessResult(data map[string]interface{}) UploadResult {
	if data == nil {
		data = map[string]interface{}{}
	}
	return UploadResult{Data: data, Error: NoError}
}

// ErrorResult builds a failed UploadResult.
func ErrorResult(code ErrorCode) UploadResult {
	if code == NoError {
		code = UnknownError
	}
	return UploadResult{Error: code}
}

// Succeeded reports whether the result carries success data.
func (r UploadResult) Succeeded() bool {
	return r.Error == NoError
}

// UploadStatus is returned by one ProcessRequest call.
type UploadStatus struct {
	Outcome Outcome
	Code    ErrorCode
	// RetryAfter is the backoff the policy asks for before the next attempt.
	// Only meaningful for OutcomeReschedule.
	RetryAfter time.Duration
	Result     *UploadResult
}

// TerminalRecord is a stored terminal result keyed by request id.
type TerminalRecord struct {
	RequestID   string       `db:"request_id" json:"request_id"`
	Result      UploadResult `db:"-" json:"result"`
	CompletedAt time.Time    `db:"completed_at" json:"completed_at"`
}

// UploadRequest is a persisted upload request waiting for, or done with, processing.
type UploadRequest struct {
	ID        string        `db:"id" json:"id"`
	Params    *params.Bag   `db:"params" json:"-"`
	Status    RequestStatus `db:"status" json:"status"`
	Attempts  int           `db:"attempts" json:"attempts"`
	LastError ErrorCode     `db:"last_error" json:"last_error"`
	NextRunAt time.Time     `db:"next_run_at" json:"next_run_at"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// RequiresNetwork reports whether the request may only run while online.
func (r *UploadRequest) RequiresNetwork() bool {
	return PolicyFromParams(r.Params).Network != NetworkNone
}
