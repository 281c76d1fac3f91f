package apperrors

import (
	"github.com/palemoky/realtime-chat/internal/protocol"
)

// TransportError 传输层错误（客户端与服务端共享）
type TransportError struct {
	Code    int
	Message string
}

func (e *TransportError) Error() string {
	return e.Message
}

// Is 按错误码比较，便于 errors.Is 匹配包装后的同类错误
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建带错误码的传输错误
func New(code int, message string) *TransportError {
	return &TransportError{Code: code, Message: message}
}

// 预定义错误
var (
	ErrNotConnected   = &TransportError{Code: protocol.ErrCodeNotConnected, Message: "未连接到服务器"}
	ErrSendBufferFull = &TransportError{Code: protocol.ErrCodeSendBufferFull, Message: "发送缓冲区已满"}
	ErrClosed         = &TransportError{Code: protocol.ErrCodeConnectionClosed, Message: "连接已关闭"}
)
