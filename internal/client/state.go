package client

import "time"

// State 连接状态
type State int

const (
	StateDisconnected State = iota // 初始状态，或主动断开后
	StateConnecting                // 正在建立连接
	StateConnected                 // 已连接
	StateReconnecting              // 等待退避后重连
	StateFailed                    // 重连次数耗尽，需要再次 Connect
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// StateChange 一次状态迁移
type StateChange struct {
	From State
	To   State
}

// SendResult SendMessage 的结果
type SendResult int

const (
	SendSent   SendResult = iota // 已写入当前连接
	SendQueued                   // 未连接，已进入发送队列
)

func (r SendResult) String() string {
	if r == SendSent {
		return "sent"
	}
	return "queued"
}

// Stats 连接统计
type Stats struct {
	State                State
	QueueDepth           int
	Dropped              int // 队列满时被挤出的消息数
	ReconnectAttempts    int
	MaxReconnectAttempts int
	MessagesLastMinute   int   // 最近 60 秒收到的消息数
	LatencyMS            int64 // 最近一次 ping 的往返延迟，未测量为 -1
}

// Backoff 返回第 attempt 次重连前的等待时间：base*2^(attempt-1)，不超过 ceiling
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	d := min(base, ceiling)
	if d <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	return d
}
