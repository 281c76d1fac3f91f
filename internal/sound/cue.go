// Package sound 播放客户端提示音
package sound

// Cue 提示音类型，同名的 assets/sounds/<cue>.wav|mp3 会覆盖内置音
type Cue string

const (
	CueMessage      Cue = "message"      // 收到聊天消息
	CueConnected    Cue = "connected"    // 连接成功
	CueDisconnected Cue = "disconnected" // 连接断开
)

// Cues 全部提示音
var Cues = []Cue{CueMessage, CueConnected, CueDisconnected}
