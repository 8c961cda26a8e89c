package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"upqueue/internal/domain"
)

// MockUploadRequestRepo is a mock implementation of port.UploadRequestRepository.
type MockUploadRequestRepo struct {
	mock.Mock
}

func (m *MockUploadRequestRepo) Create(ctx context.Context, req *domain.UploadRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockUploadRequestRepo) GetByID(ctx context.Context, id string) (*domain.UploadRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UploadRequest), args.Error(1)
}

func (m *MockUploadRequestRepo) List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error) {
	args := m.Called(ctx, status, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.UploadRequest), args.Int(1), args.Error(2)
}

func (m *MockUploadRequestRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.UploadRequest, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UploadRequest), args.Error(1)
}

func (m *MockUploadRequestRepo) Reschedule(ctx context.Context, req *domain.UploadRequest, nextRunAt time.Time) error {
	args := m.Called(ctx, req, nextRunAt)
	return args.Error(0)
}

func (m *MockUploadRequestRepo) Complete(ctx context.Context, id string, status domain.RequestStatus, code domain.ErrorCode) error {
	args := m.Called(ctx, id, status, code)
	return args.Error(0)
}

func (m *MockUploadRequestRepo) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUploadRequestRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockUploadRequestRepo) PurgeFinished(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
