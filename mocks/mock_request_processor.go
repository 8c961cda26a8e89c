package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"upqueue/internal/domain"
	"upqueue/internal/params"
)

// MockRequestProcessor is a mock implementation of service.RequestProcessor.
type MockRequestProcessor struct {
	mock.Mock
}

func (m *MockRequestProcessor) ProcessRequest(ctx context.Context, p params.Params) domain.UploadStatus {
	args := m.Called(ctx, p)
	return args.Get(0).(domain.UploadStatus)
}
