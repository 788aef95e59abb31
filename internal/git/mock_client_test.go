package git

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Clone(ctx context.Context, dest string, opts CloneOptions) (string, error) {
	args := m.Called(ctx, dest, opts)
	return args.String(0), args.Error(1)
}
