// Package common 终端界面的样式与小工具
package common

import "github.com/palemoky/realtime-chat/internal/protocol"

// TruncateName 按字符截断名字，超出时以省略号结尾
func TruncateName(name string, maxLen int) string {
	runes := []rune(name)
	if len(runes) > maxLen {
		return string(runes[:maxLen-1]) + "…"
	}
	return name
}

// FormatClock 把信封时间戳转成本地时钟，无法解析时原样返回
func FormatClock(timestamp string) string {
	t, err := protocol.ParseTimestamp(timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format("15:04:05")
}
