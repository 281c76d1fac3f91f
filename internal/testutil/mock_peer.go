//go:build !production

package testutil

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// MockPeer 实现 types.PeerInterface 的 mock
type MockPeer struct {
	mock.Mock
}

func (m *MockPeer) GetID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPeer) GetSessionID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPeer) BindSession(sessionID string) {
	m.Called(sessionID)
}

func (m *MockPeer) SendMessage(msg *protocol.Envelope) {
	m.Called(msg)
}

func (m *MockPeer) Close() {
	m.Called()
}

// SimplePeer 记录收到消息的对端，不使用 testify（用于不需要断言调用的测试）
type SimplePeer struct {
	ID        string
	SessionID string

	mu       sync.Mutex
	messages []*protocol.Envelope
	closed   bool
}

func (p *SimplePeer) GetID() string { return p.ID }

func (p *SimplePeer) GetSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SessionID
}

func (p *SimplePeer) BindSession(sessionID string) {
	p.mu.Lock()
	p.SessionID = sessionID
	p.mu.Unlock()
}

func (p *SimplePeer) SendMessage(msg *protocol.Envelope) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
}

func (p *SimplePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Messages 返回收到的消息副本
func (p *SimplePeer) Messages() []*protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*protocol.Envelope(nil), p.messages...)
}

// MessagesOfType 返回指定类型的消息
func (p *SimplePeer) MessagesOfType(t protocol.MessageType) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, msg := range p.Messages() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// Last 返回最后一条消息，没有时返回 nil
func (p *SimplePeer) Last() *protocol.Envelope {
	msgs := p.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// IsClosed 是否已被关闭
func (p *SimplePeer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
