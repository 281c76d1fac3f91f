package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// Message 解码后的消息变体，按 type 区分
type Message interface {
	Kind() protocol.MessageType
	Raw() *protocol.Envelope
}

type base struct {
	env *protocol.Envelope
}

func (b base) Raw() *protocol.Envelope { return b.env }

// PingMessage 心跳请求
type PingMessage struct {
	base
	SentAt *int64
}

func (PingMessage) Kind() protocol.MessageType { return protocol.MsgPing }

// AuthMessage 认证请求，凭证原样交给认证器
type AuthMessage struct {
	base
	Credentials json.RawMessage
}

func (AuthMessage) Kind() protocol.MessageType { return protocol.MsgAuth }

// ChatMessage 聊天消息
type ChatMessage struct {
	base
	ClientID string
	Payload  json.RawMessage
}

func (ChatMessage) Kind() protocol.MessageType { return protocol.MsgChat }

// HistoryRequestMessage 历史消息请求
type HistoryRequestMessage struct {
	base
	Request protocol.HistoryRequestPayload
}

func (HistoryRequestMessage) Kind() protocol.MessageType { return protocol.MsgHistoryRequest }

// TypingMessage 正在输入
type TypingMessage struct {
	base
	ClientID string
	Typing   protocol.TypingPayload
}

func (TypingMessage) Kind() protocol.MessageType { return protocol.MsgTyping }

// UnknownMessage 服务端不处理的类型，交给 echo 兜底
type UnknownMessage struct {
	base
}

func (m UnknownMessage) Kind() protocol.MessageType { return m.env.Type }

// Parse 解码一帧并转换为对应的消息变体
// 非 JSON 或缺少 type 返回 ErrCodeInvalidMsg，payload 形状不符返回 ErrCodeInvalidPayload
func Parse(data []byte) (Message, error) {
	env, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return FromEnvelope(env)
}

// FromEnvelope 将已解码的信封转换为消息变体
func FromEnvelope(env *protocol.Envelope) (Message, error) {
	b := base{env: env}

	switch env.Type {
	case protocol.MsgPing:
		return PingMessage{base: b, SentAt: env.SentAt}, nil

	case protocol.MsgAuth:
		if !isEmptyPayload(env.Payload) && !isJSONObject(env.Payload) {
			return nil, invalidPayload(env.Type, errors.New("credentials must be an object"))
		}
		return AuthMessage{base: b, Credentials: env.Payload}, nil

	case protocol.MsgChat:
		payload := env.Payload
		if isEmptyPayload(payload) {
			payload = json.RawMessage("null")
		} else if !json.Valid(payload) {
			return nil, invalidPayload(env.Type, errors.New("payload is not valid JSON"))
		}
		return ChatMessage{base: b, ClientID: clientIDOrDefault(env.ClientID), Payload: payload}, nil

	case protocol.MsgHistoryRequest:
		req, err := ParsePayload[protocol.HistoryRequestPayload](env)
		if err != nil {
			return nil, invalidPayload(env.Type, err)
		}
		if req.Limit < 0 {
			return nil, invalidPayload(env.Type, errors.New("limit must not be negative"))
		}
		return HistoryRequestMessage{base: b, Request: *req}, nil

	case protocol.MsgTyping:
		typing, err := ParsePayload[protocol.TypingPayload](env)
		if err != nil {
			return nil, invalidPayload(env.Type, err)
		}
		return TypingMessage{base: b, ClientID: clientIDOrDefault(env.ClientID), Typing: *typing}, nil
	}

	return UnknownMessage{base: b}, nil
}

func invalidPayload(t protocol.MessageType, err error) error {
	return &ParseError{Code: protocol.ErrCodeInvalidPayload, Err: fmt.Errorf("%s: %w", t, err)}
}

func clientIDOrDefault(id string) string {
	if id == "" {
		return protocol.DefaultClientID
	}
	return id
}
