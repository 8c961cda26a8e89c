package domain

// Outcome is what a single ProcessRequest attempt ended in.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeReschedule Outcome = "reschedule"
)

// RequestState tracks the processor state machine for one attempt.
type RequestState string

const (
	StateCreated         RequestState = "created"
	StateOptionsDecoded  RequestState = "options_decoded"
	StatePayloadResolved RequestState = "payload_resolved"
	StateSigned          RequestState = "signed"
	StateTransferred     RequestState = "transferred"
)

// RequestStatus represents the lifecycle of a persisted upload request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusSucceeded  RequestStatus = "succeeded"
	RequestStatusFailed     RequestStatus = "failed"
	RequestStatusCanceled   RequestStatus = "canceled"
)

// Terminal reports whether no further attempts will be made.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusSucceeded || s == RequestStatusFailed || s == RequestStatusCanceled
}

// NetworkPolicy is the network precondition for running a request.
type NetworkPolicy string

const (
	NetworkAny  NetworkPolicy = "any"
	NetworkNone NetworkPolicy = "none"
)

// BackoffPolicy selects how the delay grows between attempts.
type BackoffPolicy string

const (
	BackoffLinear      BackoffPolicy = "linear"
	BackoffExponential BackoffPolicy = "exponential"
)
