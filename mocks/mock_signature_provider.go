package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"upqueue/internal/signing"
)

// MockSignatureProvider is a mock implementation of signing.Provider.
type MockSignatureProvider struct {
	mock.Mock
}

func (m *MockSignatureProvider) ProvideSignature(ctx context.Context, options map[string]interface{}) (*signing.Signature, error) {
	args := m.Called(ctx, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*signing.Signature), args.Error(1)
}

func (m *MockSignatureProvider) Name() string {
	args := m.Called()
	return args.String(0)
}
