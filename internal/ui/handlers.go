package ui

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/sound"
	"github.com/palemoky/realtime-chat/internal/ui/common"
)

// messageHandler 消息处理函数类型
type messageHandler func(m *ChatModel, env *protocol.Envelope) tea.Cmd

// messageHandlers 消息处理器映射表
var messageHandlers = map[protocol.MessageType]messageHandler{
	protocol.MsgChat:         handleMsgChat,
	protocol.MsgTyping:       handleMsgTyping,
	protocol.MsgHistory:      handleMsgHistory,
	protocol.MsgAuthResponse: handleMsgAuthResponse,
	protocol.MsgSystem:       handleMsgSystem,
	protocol.MsgError:        handleMsgError,
	protocol.MsgEcho:         handleMsgEcho,
	protocol.MsgPong:         func(m *ChatModel, _ *protocol.Envelope) tea.Cmd { return handleMsgPong(m) },
}

// handleServerMessage 分发服务器消息，未知类型忽略
func (m *ChatModel) handleServerMessage(env *protocol.Envelope) tea.Cmd {
	if handler, ok := messageHandlers[env.Type]; ok {
		return handler(m, env)
	}
	return nil
}

// chatBody 取出聊天文本，非 {text} 结构时显示原始 JSON
func chatBody(payload json.RawMessage) string {
	var text protocol.ChatText
	if err := json.Unmarshal(payload, &text); err == nil && text.Text != "" {
		return text.Text
	}
	return string(payload)
}

func handleMsgChat(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	self := env.ClientID != "" && env.ClientID == m.identity
	m.appendLine(chatLine(env.Timestamp, env.ClientID, chatBody(env.Payload), self))
	delete(m.typingPeers, env.ClientID)

	if !self {
		m.sounds.Play(sound.CueMessage)
	}
	return nil
}

func handleMsgTyping(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.TypingPayload](env)
	if err != nil || env.ClientID == m.identity {
		return nil
	}
	if payload.IsTyping {
		m.typingPeers[env.ClientID] = m.now()
	} else {
		delete(m.typingPeers, env.ClientID)
	}
	return nil
}

func handleMsgHistory(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.HistoryPayload](env)
	if err != nil {
		return nil
	}

	m.appendLine(systemLine(fmt.Sprintf("%s 历史消息 %d 条", common.IconHistory, len(payload.Messages))))
	for _, h := range payload.Messages {
		m.appendLine(common.MutedStyle.Render(common.IconHistory+" ") +
			chatLine(h.Timestamp, h.ClientID, chatBody(h.Payload), h.ClientID == m.identity))
	}
	return nil
}

func handleMsgAuthResponse(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.AuthResponsePayload](env)
	if err != nil {
		return nil
	}

	if !payload.Success {
		m.resumeToken = ""
		m.syncAuth()
		return m.setNotice(fmt.Sprintf("%s 认证失败: %s", common.IconWarn, payload.Reason))
	}

	m.identity = payload.Identity
	m.resumeToken = payload.ResumeToken
	m.syncAuth()
	if payload.Resumed {
		m.appendLine(systemLine(fmt.Sprintf("%s 已恢复会话 %s", common.IconOK, payload.Identity)))
	} else {
		m.appendLine(systemLine(fmt.Sprintf("%s 已认证为 %s (会话 %s)", common.IconOK, payload.Identity, payload.SessionID)))
	}
	return nil
}

func handleMsgSystem(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.SystemPayload](env)
	if err != nil {
		return nil
	}

	switch payload.Event {
	case protocol.SystemEventConnected:
		m.appendLine(systemLine(fmt.Sprintf("%s 已连接 (%s)", common.IconOK, payload.PeerID)))
	case protocol.SystemEventMaintenance:
		return m.setNotice(fmt.Sprintf("%s 服务器维护中", common.IconWarn))
	default:
		m.appendLine(systemLine(fmt.Sprintf("%s %s %s", common.IconSystem, payload.Event, payload.Message)))
	}
	return nil
}

func handleMsgError(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	payload, err := codec.ParsePayload[protocol.ErrorPayload](env)
	if err != nil {
		return nil
	}
	return m.setNotice(fmt.Sprintf("%s %s (%d)", common.IconWarn, payload.Message, payload.Code))
}

func handleMsgEcho(m *ChatModel, env *protocol.Envelope) tea.Cmd {
	m.appendLine(systemLine(fmt.Sprintf("%s 服务器不认识 %q: %s", common.IconEcho, env.OriginalType, string(env.Payload))))
	return nil
}

func handleMsgPong(m *ChatModel) tea.Cmd {
	m.stats = m.conn.Stats()
	return m.setNotice(fmt.Sprintf("pong %dms", m.stats.LatencyMS))
}
