// Package codec encodes and decodes chat envelopes on the wire.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// ErrMissingType is returned when a frame decodes but carries no type
var ErrMissingType = errors.New("envelope missing type")

// ParseError 携带协议错误码的解析错误
type ParseError struct {
	Code int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse envelope (code %d): %v", e.Code, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewMessage 创建一个新信封，payload 为 nil 时不带 payload
func NewMessage(msgType protocol.MessageType, payload any) (*protocol.Envelope, error) {
	env := &protocol.Envelope{
		Type:      msgType,
		Timestamp: protocol.Now(),
	}
	if payload == nil {
		return env, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Payload = data
	return env, nil
}

// MustNewMessage 创建信封，失败时 panic
func MustNewMessage(msgType protocol.MessageType, payload any) *protocol.Envelope {
	env, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Encode 将信封编码为 JSON 文本帧
func Encode(env *protocol.Envelope) ([]byte, error) {
	if env == nil || env.Type == "" {
		return nil, ErrMissingType
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}

	// Encoder 会追加换行，帧内不需要
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return append([]byte(nil), out...), nil
}

// Decode 解码一帧为信封，只校验 JSON 格式和 type 字段
func Decode(data []byte) (*protocol.Envelope, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Code: protocol.ErrCodeInvalidMsg, Err: err}
	}
	if env.Type == "" {
		return nil, &ParseError{Code: protocol.ErrCodeInvalidMsg, Err: ErrMissingType}
	}
	return &env, nil
}

// ParsePayload 解析信封的 Payload 到指定类型，空 payload 返回零值
func ParsePayload[T any](env *protocol.Envelope) (*T, error) {
	var payload T
	if isEmptyPayload(env.Payload) {
		return &payload, nil
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// NewErrorMessage 创建错误信封
func NewErrorMessage(code int) *protocol.Envelope {
	return NewErrorMessageWithText(code, protocol.ErrorMessages[code])
}

// NewErrorMessageWithText 创建带自定义文本的错误信封
func NewErrorMessageWithText(code int, text string) *protocol.Envelope {
	env, _ := NewMessage(protocol.MsgError, protocol.ErrorPayload{
		Code:    code,
		Message: text,
	})
	return env
}

// ErrorCode 提取解析错误的协议错误码
func ErrorCode(err error) int {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return protocol.ErrCodeUnknown
}

func isEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
