package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"upqueue/internal/dispatch"
	"upqueue/internal/domain"
	"upqueue/internal/params"
	"upqueue/internal/payload"
	"upqueue/internal/service"
	"upqueue/mocks"
)

func newUploadService(t *testing.T, repo *mocks.MockUploadRequestRepo) (service.UploadService, *dispatch.MemoryResultStore) {
	t.Helper()
	store, err := dispatch.NewMemoryResultStore(16)
	require.NoError(t, err)
	return service.NewUploadService(repo, store, domain.DefaultPolicy(), 1024), store
}

func TestUploadService_EnqueueBuildsParams(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	var created *domain.UploadRequest
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.UploadRequest")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*domain.UploadRequest) }).
		Return(nil).Once()

	svc, _ := newUploadService(t, repo)
	policy := domain.Policy{MaxRetries: 2, Network: domain.NetworkNone, Backoff: domain.BackoffLinear, BackoffMillis: 500}
	req, err := svc.Enqueue(context.Background(), service.EnqueueInput{
		URI:           "s3://bucket/a.png",
		Options:       map[string]interface{}{"folder": "x"},
		Policy:        &policy,
		Unsigned:      true,
		CorrelationID: "req-1",
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, req.ID, created.ID)
	assert.Equal(t, domain.RequestStatusPending, req.Status)

	bag := req.Params
	assert.Equal(t, req.ID, bag.GetString(params.KeyRequestID, ""))
	assert.Equal(t, 0, bag.GetInt(params.KeyRetryCount, -1))
	assert.Equal(t, 1, bag.GetInt(params.KeyUnsigned, 0))
	assert.Equal(t, "req-1", bag.GetString(params.KeyCorrelationID, ""))
	assert.Equal(t, policy, domain.PolicyFromParams(bag))

	options, err := service.DecodeOptions(bag.GetString(params.KeyOptions, ""))
	require.NoError(t, err)
	assert.Equal(t, "x", options["folder"])

	pl, err := payload.Decode(bag.GetString(params.KeyPayload, ""))
	require.NoError(t, err)
	assert.Equal(t, payload.LocalURI{URI: "s3://bucket/a.png"}, pl)
	assert.False(t, req.RequiresNetwork())
}

func TestUploadService_EnqueueDefaultsPolicy(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	svc, _ := newUploadService(t, repo)
	id := 3
	req, err := svc.Enqueue(context.Background(), service.EnqueueInput{ResourceID: &id})

	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPolicy(), domain.PolicyFromParams(req.Params))
	assert.False(t, req.Params.Has(params.KeyUnsigned))
	assert.False(t, req.Params.Has(params.KeyCorrelationID))
	assert.True(t, req.RequiresNetwork())
}

func TestUploadService_EnqueueRejectsAmbiguousSource(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	svc, _ := newUploadService(t, repo)

	_, err := svc.Enqueue(context.Background(), service.EnqueueInput{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)

	_, err = svc.Enqueue(context.Background(), service.EnqueueInput{FilePath: "/a", URI: "file:///b"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadService_EnqueueRejectsOversizedBytes(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	svc, _ := newUploadService(t, repo)

	_, err := svc.Enqueue(context.Background(), service.EnqueueInput{Bytes: make([]byte, 2048)})
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)
}

func TestUploadService_GetAttachesResult(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	repo.On("GetByID", mock.Anything, "done").
		Return(&domain.UploadRequest{ID: "done", Status: domain.RequestStatusSucceeded}, nil)
	repo.On("GetByID", mock.Anything, "pending").
		Return(&domain.UploadRequest{ID: "pending", Status: domain.RequestStatusPending}, nil)
	repo.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	svc, store := newUploadService(t, repo)
	require.NoError(t, store.SaveResult(context.Background(), domain.TerminalRecord{
		RequestID: "done",
		Result:    domain.SuccessResult(map[string]interface{}{"url": "u"}),
	}))

	view, err := svc.Get(context.Background(), "done")
	require.NoError(t, err)
	require.NotNil(t, view.Result)
	assert.Equal(t, "u", view.Result.Data["url"])

	view, err = svc.Get(context.Background(), "pending")
	require.NoError(t, err)
	assert.Nil(t, view.Result)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUploadService_Cancel(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	repo.On("Cancel", mock.Anything, "a").Return(nil).Once()
	repo.On("Cancel", mock.Anything, "b").Return(domain.ErrNotCancelable).Once()

	svc, _ := newUploadService(t, repo)

	assert.NoError(t, svc.Cancel(context.Background(), "a"))
	assert.ErrorIs(t, svc.Cancel(context.Background(), "b"), domain.ErrNotCancelable)
	repo.AssertExpectations(t)
}

func TestUploadService_EnqueueRejectsInvalidPolicy(t *testing.T) {
	repo := new(mocks.MockUploadRequestRepo)
	svc, _ := newUploadService(t, repo)

	policy := domain.DefaultPolicy()
	policy.Backoff = "fibonacci"
	_, err := svc.Enqueue(context.Background(), service.EnqueueInput{URI: "file:///a", Policy: &policy})

	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
