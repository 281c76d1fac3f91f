package protocol

import (
	"encoding/json"
	"time"
)

// TimestampLayout 信封时间戳格式（ISO-8601，毫秒精度，UTC）
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultClientID 聊天消息缺省的发送者标识
const DefaultClientID = "unknown"

// Envelope 基础消息结构，客户端与服务端共享
type Envelope struct {
	Type         MessageType     `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	SentAt       *int64          `json:"sentAt,omitempty"`       // 仅 ping/pong
	ClientID     string          `json:"clientId,omitempty"`     // 仅 chat/typing
	OriginalType MessageType     `json:"originalType,omitempty"` // 仅 echo
}

// MessageType 消息类型
type MessageType string

// 客户端 → 服务端 消息类型
const (
	MsgPing           MessageType = "ping"            // 心跳 ping
	MsgAuth           MessageType = "auth"            // 认证
	MsgChat           MessageType = "chat"            // 聊天消息
	MsgHistoryRequest MessageType = "history_request" // 请求历史消息
	MsgTyping         MessageType = "typing"          // 正在输入
)

// 服务端 → 客户端 消息类型
const (
	MsgPong         MessageType = "pong"          // 心跳 pong
	MsgAuthResponse MessageType = "auth_response" // 认证结果
	MsgHistory      MessageType = "history"       // 历史消息
	MsgSystem       MessageType = "system"        // 系统通知
	MsgEcho         MessageType = "echo"          // 未知类型回显
	MsgError        MessageType = "error"         // 错误消息
)

// Known 是否为协议定义的消息类型
func (t MessageType) Known() bool {
	switch t {
	case MsgPing, MsgPong, MsgAuth, MsgAuthResponse, MsgChat,
		MsgHistoryRequest, MsgHistory, MsgTyping, MsgSystem, MsgEcho, MsgError:
		return true
	}
	return false
}

// Now 返回当前时间的信封时间戳
func Now() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp 格式化信封时间戳
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp 解析信封时间戳，兼容 RFC3339Nano
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Int64Ptr 返回 v 的指针，用于 SentAt 字段
func Int64Ptr(v int64) *int64 {
	return &v
}
