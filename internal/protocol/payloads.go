package protocol

import "encoding/json"

// --- 客户端请求 Payloads ---

// AuthPayload 认证请求
type AuthPayload struct {
	Token       string `json:"token"`
	Name        string `json:"name,omitempty"`
	ResumeToken string `json:"resumeToken,omitempty"` // 断线后恢复原会话
}

// HistoryRequestPayload 历史消息请求，SessionID 为空时取请求者自己的会话
type HistoryRequestPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// TypingPayload 正在输入提示
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ChatText 聊天内容的常见形态（transport 层不强制）
type ChatText struct {
	Text string `json:"text"`
}

// --- 服务端响应 Payloads ---

// SystemPayload 系统通知
type SystemPayload struct {
	Event   string `json:"event"`
	PeerID  string `json:"peerId,omitempty"`
	Message string `json:"message,omitempty"`
}

// 系统事件
const (
	SystemEventConnected   = "connected"
	SystemEventMaintenance = "maintenance"
)

// AuthResponsePayload 认证结果
type AuthResponsePayload struct {
	Success     bool     `json:"success"`
	SessionID   string   `json:"sessionId,omitempty"`
	Identity    string   `json:"identity,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	ResumeToken string   `json:"resumeToken,omitempty"`
	Resumed     bool     `json:"resumed,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// HistoryMessage 历史消息条目
type HistoryMessage struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	ClientID  string          `json:"clientId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// HistoryPayload 历史消息回放，按存储顺序（最早的在前）
type HistoryPayload struct {
	SessionID string           `json:"sessionId"`
	Messages  []HistoryMessage `json:"messages"`
}

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
