package port

import (
	"context"
	"fmt"
	"io"

	"upqueue/internal/signing"
)

// TransferInput is everything a transfer collaborator receives for one attempt.
type TransferInput struct {
	RequestID   string
	Body        io.Reader
	Size        int64
	Name        string
	ContentType string
	Options     map[string]interface{}
	// Signature is nil for unsigned uploads.
	Signature *signing.Signature
	// Progress reports cumulative bytes sent.
	Progress func(bytes, total int64)
}

// Transfer moves a resolved payload to its destination and returns the
// result fields (e.g. "public_id"). The collaborator owns its own timeouts.
type Transfer interface {
	Transfer(ctx context.Context, input TransferInput) (map[string]interface{}, error)
}

// FailureKind classifies a transfer failure.
type FailureKind int

const (
	// FailureTransient failures may succeed if retried later.
	FailureTransient FailureKind = iota + 1
	// FailureFatal failures will fail again on retry.
	FailureFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureFatal:
		return "fatal"
	default:
		return "unclassified"
	}
}

// TransferError is a classified transfer failure.
type TransferError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *TransferError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transfer failure (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s transfer failure: %s", e.Kind, msg)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient TransferError.
func Transient(statusCode int, err error) *TransferError {
	return &TransferError{Kind: FailureTransient, StatusCode: statusCode, Err: err}
}

// Fatal wraps err as a fatal TransferError.
func Fatal(statusCode int, err error) *TransferError {
	return &TransferError{Kind: FailureFatal, StatusCode: statusCode, Err: err}
}

// NetworkChecker reports whether the network precondition of a request holds.
type NetworkChecker interface {
	Online(ctx context.Context) bool
}
