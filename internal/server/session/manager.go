package session

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// 断线后可恢复会话的时间
	resumeTimeout = 2 * time.Minute
	// 离线会话过期时间
	sessionExpireTime = 10 * time.Minute
	// 过期巡检间隔
	cleanupInterval = 1 * time.Minute
)

// ChatSession 已认证的聊天会话，可跨连接恢复
type ChatSession struct {
	SessionID   string
	Identity    string
	Permissions []string
	ResumeToken string

	PeerID         string    // 当前绑定的连接
	DisconnectedAt time.Time // 断线时间
	IsOnline       bool      // 是否在线

	mu sync.RWMutex
}

// HasPermission 检查会话是否拥有某项权限
func (s *ChatSession) HasPermission(perm string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.Permissions, perm)
}

// Online 返回会话是否在线
func (s *ChatSession) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.IsOnline
}

// Manager 会话管理器
type Manager struct {
	sessions map[string]*ChatSession // sessionID -> session
	tokens   map[string]string       // resumeToken -> sessionID
	mu       sync.RWMutex

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewManager 创建会话管理器并启动过期清理
func NewManager() *Manager {
	m := newManager(time.Now)
	go m.cleanupLoop()
	return m
}

func newManager(now func() time.Time) *Manager {
	return &Manager{
		sessions: make(map[string]*ChatSession),
		tokens:   make(map[string]string),
		now:      now,
		stop:     make(chan struct{}),
	}
}

// Close 停止清理协程
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })
}

// CreateSession 为认证成功的连接创建新会话
func (m *Manager) CreateSession(peerID, identity string, permissions []string) *ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &ChatSession{
		SessionID:   uuid.NewString(),
		Identity:    identity,
		Permissions: slices.Clone(permissions),
		ResumeToken: generateToken(),
		PeerID:      peerID,
		IsOnline:    true,
	}

	m.sessions[session.SessionID] = session
	m.tokens[session.ResumeToken] = session.SessionID

	return session
}

// GetSession 获取会话
func (m *Manager) GetSession(sessionID string) *ChatSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// GetSessionByToken 通过恢复 token 获取会话
func (m *Manager) GetSessionByToken(token string) *ChatSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.tokens[token]
	if !ok {
		return nil
	}
	return m.sessions[sessionID]
}

// Resume 用恢复 token 把会话重新绑定到新连接，超时或 token 无效返回 nil
func (m *Manager) Resume(token, peerID string) *ChatSession {
	session := m.GetSessionByToken(token)
	if session == nil {
		return nil
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if !session.IsOnline && m.now().Sub(session.DisconnectedAt) > resumeTimeout {
		return nil
	}
	session.PeerID = peerID
	session.IsOnline = true
	session.DisconnectedAt = time.Time{}
	return session
}

// SetOffline 连接断开时标记会话离线；若会话已被其他连接接管则忽略
func (m *Manager) SetOffline(sessionID, peerID string) {
	session := m.GetSession(sessionID)
	if session == nil {
		return
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.PeerID != peerID {
		return
	}
	session.IsOnline = false
	session.DisconnectedAt = m.now()
}

// DeleteSession 删除会话
func (m *Manager) DeleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[sessionID]; ok {
		delete(m.tokens, session.ResumeToken)
		delete(m.sessions, sessionID)
	}
}

// Count 返回会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop 定期清理过期会话
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

// cleanup 清理离线超过过期时间的会话
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for sessionID, session := range m.sessions {
		session.mu.RLock()
		expired := !session.IsOnline && now.Sub(session.DisconnectedAt) > sessionExpireTime
		session.mu.RUnlock()
		if expired {
			delete(m.tokens, session.ResumeToken)
			delete(m.sessions, sessionID)
		}
	}
}

// generateToken 生成随机 token
func generateToken() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
