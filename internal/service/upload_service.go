package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"upqueue/internal/domain"
	"upqueue/internal/params"
	"upqueue/internal/payload"
	"upqueue/internal/port"
)

// EnqueueInput is the DTO for submitting an upload request. Exactly one of
// FilePath, Bytes, URI or ResourceID must be set.
type EnqueueInput struct {
	FilePath   string
	Bytes      []byte
	URI        string
	ResourceID *int
	Options    map[string]interface{}
	Policy     *domain.Policy // nil = configured default
	Unsigned   bool
	// CorrelationID ties the request to the API call that created it.
	CorrelationID string
}

// UploadView is a request together with its terminal result, if any.
type UploadView struct {
	Request *domain.UploadRequest
	Result  *domain.UploadResult
}

// UploadService manages the lifecycle of persisted upload requests.
type UploadService interface {
	Enqueue(ctx context.Context, input EnqueueInput) (*domain.UploadRequest, error)
	Get(ctx context.Context, id string) (*UploadView, error)
	List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error)
	Cancel(ctx context.Context, id string) error
}

type uploadService struct {
	repo          port.UploadRequestRepository
	results       port.ResultStore
	defaultPolicy domain.Policy
	maxBytes      int64
}

// NewUploadService creates a new UploadService. maxBytes bounds inline byte
// payloads; zero disables the check.
func NewUploadService(
	repo port.UploadRequestRepository,
	results port.ResultStore,
	defaultPolicy domain.Policy,
	maxBytes int64,
) UploadService {
	return &uploadService{
		repo:          repo,
		results:       results,
		defaultPolicy: defaultPolicy,
		maxBytes:      maxBytes,
	}
}

func (s *uploadService) Enqueue(ctx context.Context, input EnqueueInput) (*domain.UploadRequest, error) {
	pl, err := s.payloadFor(input)
	if err != nil {
		return nil, err
	}

	options, err := EncodeOptions(input.Options)
	if err != nil {
		return nil, err
	}

	policy := s.defaultPolicy
	if input.Policy != nil {
		policy = *input.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	bag := params.New()
	bag.PutString(params.KeyRequestID, id)
	bag.PutString(params.KeyOptions, options)
	bag.PutString(params.KeyPayload, pl.Encode())
	bag.PutInt(params.KeyRetryCount, 0)
	policy.Apply(bag)
	if input.Unsigned {
		bag.PutInt(params.KeyUnsigned, 1)
	}
	if input.CorrelationID != "" {
		bag.PutString(params.KeyCorrelationID, input.CorrelationID)
	}

	req := &domain.UploadRequest{
		ID:     id,
		Params: bag,
		Status: domain.RequestStatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}

	log.Printf("uploadService.Enqueue: request %s queued (%s, max_retries=%d)", id, pl.Kind(), policy.MaxRetries)
	return req, nil
}

func (s *uploadService) payloadFor(input EnqueueInput) (payload.Payload, error) {
	var (
		pl    payload.Payload
		count int
	)
	if input.FilePath != "" {
		pl = payload.File{Path: input.FilePath}
		count++
	}
	if input.Bytes != nil {
		if s.maxBytes > 0 && int64(len(input.Bytes)) > s.maxBytes {
			return nil, fmt.Errorf("%w: %s exceeds %s", domain.ErrFileTooLarge,
				units.HumanSize(float64(len(input.Bytes))), units.HumanSize(float64(s.maxBytes)))
		}
		pl = payload.ByteArray{Data: input.Bytes}
		count++
	}
	if input.URI != "" {
		pl = payload.LocalURI{URI: input.URI}
		count++
	}
	if input.ResourceID != nil {
		pl = payload.Resource{ID: *input.ResourceID}
		count++
	}
	if count != 1 {
		return nil, domain.ErrUnsupportedSource
	}
	return pl, nil
}

func (s *uploadService) Get(ctx context.Context, id string) (*UploadView, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &UploadView{Request: req}
	if !req.Status.Terminal() || req.Status == domain.RequestStatusCanceled {
		return view, nil
	}

	rec, err := s.results.GetResult(ctx, id)
	switch {
	case err == nil:
		view.Result = &rec.Result
	case errors.Is(err, domain.ErrNotFound):
		// Result evicted or forgotten; the request row still carries the code.
	default:
		return nil, fmt.Errorf("loading result for %s: %w", id, err)
	}
	return view, nil
}

func (s *uploadService) List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error) {
	return s.repo.List(ctx, status, offset, limit)
}

func (s *uploadService) Cancel(ctx context.Context, id string) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		return err
	}
	log.Printf("uploadService.Cancel: request %s canceled", id)
	return nil
}
