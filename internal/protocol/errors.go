package protocol

// 错误码
const (
	ErrCodeUnknown           = 1000
	ErrCodeInvalidMsg        = 1001 // 非 JSON 或缺少 type
	ErrCodeRateLimit         = 1002 // 速率限制
	ErrCodeInvalidPayload    = 1003 // payload 与类型不匹配
	ErrCodeUnauthorized      = 2001 // 未认证
	ErrCodeForbidden         = 2002 // 无权限
	ErrCodeHistoryFailed     = 3001 // 历史消息读取失败
	ErrCodeNotConnected      = 4001 // 客户端未连接
	ErrCodeSendBufferFull    = 4002 // 发送缓冲区已满
	ErrCodeConnectionClosed  = 4003 // 连接已关闭
	ErrCodeServerMaintenance = 5003 // 服务器维护中
)

// ErrorMessages 错误码对应的消息
var ErrorMessages = map[int]string{
	ErrCodeUnknown:           "未知错误",
	ErrCodeInvalidMsg:        "无效的消息格式",
	ErrCodeRateLimit:         "请求过于频繁",
	ErrCodeInvalidPayload:    "消息内容与类型不匹配",
	ErrCodeUnauthorized:      "尚未认证",
	ErrCodeForbidden:         "没有权限",
	ErrCodeHistoryFailed:     "历史消息读取失败",
	ErrCodeNotConnected:      "未连接到服务器",
	ErrCodeSendBufferFull:    "发送缓冲区已满",
	ErrCodeConnectionClosed:  "连接已关闭",
	ErrCodeServerMaintenance: "服务器维护中",
}
