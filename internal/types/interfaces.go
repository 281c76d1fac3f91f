package types

import (
	"context"
	"encoding/json"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// RegistryInterface 会话注册表接口（用于打破循环依赖）
type RegistryInterface interface {
	Broadcast(msg *protocol.Envelope)
	BroadcastExcept(msg *protocol.Envelope, peerID string)
	Count() int
}

// PeerInterface 定义一个已连接的对端
type PeerInterface interface {
	GetID() string
	GetSessionID() string
	BindSession(sessionID string)
	SendMessage(msg *protocol.Envelope)
	Close()
}

// HistoryKey 返回对端的历史消息归属：已认证用会话 ID，否则用连接 ID
func HistoryKey(p PeerInterface) string {
	if sid := p.GetSessionID(); sid != "" {
		return sid
	}
	return p.GetID()
}

// ChatLimiter 聊天速率限制器接口
type ChatLimiter interface {
	AllowChat(clientID string) (allowed bool, reason string)
	RemoveClient(clientID string)
}

// HistoryStore 历史消息存储，LoadHistory 按写入顺序返回（最早的在前）
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, msg protocol.HistoryMessage) error
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]protocol.HistoryMessage, error)
	Close() error
}

// AuthResult 凭证校验结果
type AuthResult struct {
	Success     bool
	Identity    string
	Permissions []string
	Reason      string
}

// Authenticator 凭证校验，由外部系统实现
type Authenticator interface {
	ValidateCredentials(payload json.RawMessage) AuthResult
}
