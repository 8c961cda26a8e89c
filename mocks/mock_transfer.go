package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"upqueue/internal/port"
)

// MockTransfer is a mock implementation of port.Transfer.
type MockTransfer struct {
	mock.Mock
}

func (m *MockTransfer) Transfer(ctx context.Context, input port.TransferInput) (map[string]interface{}, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// MockNetworkChecker is a mock implementation of port.NetworkChecker.
type MockNetworkChecker struct {
	mock.Mock
}

func (m *MockNetworkChecker) Online(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}
