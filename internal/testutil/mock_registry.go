//go:build !production

package testutil

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/types"
)

// MockRegistry 实现 types.RegistryInterface 的 mock
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Broadcast(msg *protocol.Envelope) {
	m.Called(msg)
}

func (m *MockRegistry) BroadcastExcept(msg *protocol.Envelope, peerID string) {
	m.Called(msg, peerID)
}

func (m *MockRegistry) Count() int {
	args := m.Called()
	return args.Int(0)
}

// PeerSet 把消息真正投递给一组 SimplePeer 的注册表
type PeerSet struct {
	mu    sync.RWMutex
	peers []types.PeerInterface
}

// NewPeerSet 创建注册表
func NewPeerSet(peers ...types.PeerInterface) *PeerSet {
	return &PeerSet{peers: peers}
}

func (s *PeerSet) Broadcast(msg *protocol.Envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		p.SendMessage(msg)
	}
}

func (s *PeerSet) BroadcastExcept(msg *protocol.Envelope, peerID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if p.GetID() != peerID {
			p.SendMessage(msg)
		}
	}
}

func (s *PeerSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
