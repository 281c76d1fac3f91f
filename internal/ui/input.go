package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/realtime-chat/internal/client"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

var helpLines = []string{
	"/history [条数] [会话ID]  查看历史消息",
	"/ping                    测量延迟",
	"/auth <token> [昵称]     认证",
	"/connect                 连接或重试",
	"/disconnect              断开连接",
	"/quit                    退出",
}

// handleKeyPress 处理按键消息，返回是否已处理和命令
func (m *ChatModel) handleKeyPress(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.Close()
		return true, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if text == "" {
			return true, nil
		}
		return true, m.submit(text)

	case tea.KeyRunes:
		m.sendTyping()
	}
	return false, nil
}

// submit 以 / 开头的是命令，其余作为聊天消息发送
func (m *ChatModel) submit(text string) tea.Cmd {
	if strings.HasPrefix(text, "/") {
		name, args := parseCommand(text)
		return m.runCommand(name, args)
	}

	env, err := codec.NewMessage(protocol.MsgChat, protocol.ChatText{Text: text})
	if err != nil {
		return m.setNotice(err.Error())
	}
	env.ClientID = m.identity

	res, err := m.conn.SendMessage(env)
	if err != nil {
		return m.setNotice(fmt.Sprintf("发送失败: %v", err))
	}
	if res == client.SendQueued {
		m.stats = m.conn.Stats()
		return m.setNotice(fmt.Sprintf("未连接，消息已排队 (%d)", m.stats.QueueDepth))
	}
	return nil
}

// parseCommand 拆分命令名与参数
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (m *ChatModel) runCommand(name string, args []string) tea.Cmd {
	switch name {
	case "help":
		for _, line := range helpLines {
			m.appendLine(systemLine(line))
		}

	case "quit", "exit":
		m.Close()
		return tea.Quit

	case "ping":
		if err := m.conn.Ping(); err != nil {
			return m.setNotice(fmt.Sprintf("ping 失败: %v", err))
		}

	case "history":
		req := protocol.HistoryRequestPayload{}
		for _, arg := range args {
			if n, err := strconv.Atoi(arg); err == nil {
				req.Limit = n
			} else {
				req.SessionID = arg
			}
		}
		return m.sendCmd(protocol.MsgHistoryRequest, req)

	case "auth":
		if len(args) == 0 {
			return m.setNotice("用法: /auth <token> [昵称]")
		}
		m.creds.Token = args[0]
		if len(args) > 1 {
			m.creds.Name = strings.Join(args[1:], " ")
		}
		m.resumeToken = ""
		m.syncAuth()
		// 未连接时不排队，连接后由握手认证
		if m.conn.State() != client.StateConnected {
			return m.setNotice("未连接，连接后自动认证")
		}
		return m.sendCmd(protocol.MsgAuth, protocol.AuthPayload{Token: m.creds.Token, Name: m.creds.Name})

	case "connect":
		m.conn.Connect()

	case "disconnect":
		m.conn.Disconnect()

	default:
		return m.setNotice(fmt.Sprintf("未知命令: /%s", name))
	}
	return nil
}

// send 编码并交给连接管理器，未连接时进入队列
func (m *ChatModel) send(msgType protocol.MessageType, payload any) error {
	env, err := codec.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	_, err = m.conn.SendMessage(env)
	return err
}

func (m *ChatModel) sendCmd(msgType protocol.MessageType, payload any) tea.Cmd {
	if err := m.send(msgType, payload); err != nil {
		return m.setNotice(fmt.Sprintf("发送失败: %v", err))
	}
	return nil
}

// sendTyping 输入时节流发送正在输入提示，未连接时不排队
func (m *ChatModel) sendTyping() {
	if m.conn.State() != client.StateConnected {
		return
	}
	now := m.now()
	if now.Sub(m.typingSentAt) < typingThrottle {
		return
	}
	m.typingSentAt = now
	_ = m.send(protocol.MsgTyping, protocol.TypingPayload{IsTyping: true})
}

func (m *ChatModel) setNotice(text string) tea.Cmd {
	m.notice = text
	return clearNoticeAfter()
}
