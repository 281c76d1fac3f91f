//go:build !production

package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// MockHistoryStore 历史存储 mock
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) Append(ctx context.Context, sessionID string, msg protocol.HistoryMessage) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

func (m *MockHistoryStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]protocol.HistoryMessage, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]protocol.HistoryMessage), args.Error(1)
}

func (m *MockHistoryStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
