package storage

import (
	"context"
	"sync"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// MemoryStore 进程内历史存储，重启即丢失
type MemoryStore struct {
	sessions map[string][]protocol.HistoryMessage
	maxLen   int
	mu       sync.RWMutex
}

// NewMemoryStore 创建内存存储，maxLen <= 0 表示不限制每个会话的条数
func NewMemoryStore(maxLen int) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]protocol.HistoryMessage),
		maxLen:   maxLen,
	}
}

// Append 追加一条消息
func (ms *MemoryStore) Append(_ context.Context, sessionID string, msg protocol.HistoryMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	list := append(ms.sessions[sessionID], msg)
	if ms.maxLen > 0 && len(list) > ms.maxLen {
		list = append([]protocol.HistoryMessage(nil), list[len(list)-ms.maxLen:]...)
	}
	ms.sessions[sessionID] = list
	return nil
}

// LoadHistory 返回最近 limit 条消息，最早的在前
func (ms *MemoryStore) LoadHistory(_ context.Context, sessionID string, limit int) ([]protocol.HistoryMessage, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	list := ms.sessions[sessionID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]protocol.HistoryMessage(nil), list...), nil
}

// Close 内存存储无需释放资源
func (ms *MemoryStore) Close() error {
	return nil
}
