package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"upqueue/internal/domain"
	"upqueue/internal/service"
)

// MockUploadService is a mock implementation of service.UploadService.
type MockUploadService struct {
	mock.Mock
}

func (m *MockUploadService) Enqueue(ctx context.Context, input service.EnqueueInput) (*domain.UploadRequest, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UploadRequest), args.Error(1)
}

func (m *MockUploadService) Get(ctx context.Context, id string) (*service.UploadView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadView), args.Error(1)
}

func (m *MockUploadService) List(ctx context.Context, status domain.RequestStatus, offset, limit int) ([]domain.UploadRequest, int, error) {
	args := m.Called(ctx, status, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.UploadRequest), args.Int(1), args.Error(2)
}

func (m *MockUploadService) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
