// Package dispatch routes upload lifecycle events to registered listeners and
// replays stored terminal results to listeners that register late.
package dispatch

import "upqueue/internal/domain"

// Callback receives upload lifecycle events. Implementations must be safe for
// concurrent use; events for different requests may arrive concurrently.
type Callback interface {
	OnStart(requestID string)
	OnProgress(requestID string, bytes, totalBytes int64)
	OnSuccess(requestID string, resultData map[string]interface{})
	OnError(requestID string, code domain.ErrorCode)
	OnReschedule(requestID string, code domain.ErrorCode)
}

// Funcs adapts plain functions to Callback. Nil fields are skipped.
type Funcs struct {
	Start      func(requestID string)
	Progress   func(requestID string, bytes, totalBytes int64)
	Success    func(requestID string, resultData map[string]interface{})
	Error      func(requestID string, code domain.ErrorCode)
	Reschedule func(requestID string, code domain.ErrorCode)
}

func (f Funcs) OnStart(requestID string) {
	if f.Start != nil {
		f.Start(requestID)
	}
}

func (f Funcs) OnProgress(requestID string, bytes, totalBytes int64) {
	if f.Progress != nil {
		f.Progress(requestID, bytes, totalBytes)
	}
}

func (f Funcs) OnSuccess(requestID string, resultData map[string]interface{}) {
	if f.Success != nil {
		f.Success(requestID, resultData)
	}
}

func (f Funcs) OnError(requestID string, code domain.ErrorCode) {
	if f.Error != nil {
		f.Error(requestID, code)
	}
}

func (f Funcs) OnReschedule(requestID string, code domain.ErrorCode) {
	if f.Reschedule != nil {
		f.Reschedule(requestID, code)
	}
}
