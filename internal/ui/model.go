// Package ui 终端聊天客户端
package ui

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/realtime-chat/internal/client"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/sound"
)

const (
	maxTranscriptLines = 500
	eventBufferSize    = 256
	statsRefresh       = time.Second
	noticeTTL          = 3 * time.Second
	typingThrottle     = 3 * time.Second
	typingExpire       = 5 * time.Second
)

// ServerMessage 服务器消息（用于 tea.Msg）
type ServerMessage struct {
	Env *protocol.Envelope
}

// StateChangedMsg 连接状态变化
type StateChangedMsg struct {
	Change client.StateChange
}

// ConnectionErrorMsg 连接错误
type ConnectionErrorMsg struct {
	Err error
}

// statsTickMsg 刷新状态栏
type statsTickMsg struct{}

// ClearNoticeMsg 清除提示
type ClearNoticeMsg struct{}

// Credentials 连接成功后自动发送的认证信息，Token 为空时不认证
type Credentials struct {
	Token string
	Name  string
}

// ChatModel 聊天界面 model
type ChatModel struct {
	conn   *client.Manager
	sounds *sound.Player
	events chan tea.Msg
	unsubs []func()

	creds       Credentials
	identity    string
	resumeToken string
	// handshakeAuth 供连接管理器在拨号协程中读取，随 creds/resumeToken 更新
	handshakeAuth atomic.Pointer[protocol.AuthPayload]

	stats  client.Stats
	notice string
	lines  []string

	typingSentAt time.Time
	typingPeers  map[string]time.Time

	input      textinput.Model
	transcript viewport.Model
	width      int

	now func() time.Time
}

// NewChatModel 创建聊天界面并订阅连接事件
func NewChatModel(conn *client.Manager, sounds *sound.Player, creds Credentials) *ChatModel {
	ti := textinput.New()
	ti.Placeholder = "输入消息，/help 查看命令"
	ti.CharLimit = 500
	ti.Width = 60
	ti.Focus()

	m := &ChatModel{
		conn:        conn,
		sounds:      sounds,
		events:      make(chan tea.Msg, eventBufferSize),
		creds:       creds,
		identity:    creds.Name,
		stats:       conn.Stats(),
		typingPeers: make(map[string]time.Time),
		input:       ti,
		transcript:  viewport.New(80, 20),
		now:         time.Now,
	}

	// 认证随握手发出，早于离线期间排队的聊天消息
	m.syncAuth()
	conn.SetHandshake(m.handshake)

	// 回调在连接管理器的协程里执行，通过 channel 转交给 Bubble Tea
	m.unsubs = append(m.unsubs,
		conn.OnMessage(func(env *protocol.Envelope) { m.push(ServerMessage{Env: env}) }),
		conn.OnStateChange(func(c client.StateChange) { m.push(StateChangedMsg{Change: c}) }),
		conn.OnError(func(err error) { m.push(ConnectionErrorMsg{Err: err}) }),
	)
	return m
}

// push 事件过多时丢弃，避免阻塞连接管理器
func (m *ChatModel) push(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// Close 取消订阅
func (m *ChatModel) Close() {
	m.conn.SetHandshake(nil)
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.listenForEvents(),
		statsTick(),
		func() tea.Msg {
			m.conn.Connect()
			return nil
		},
	)
}

func (m *ChatModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func statsTick() tea.Cmd {
	return tea.Tick(statsRefresh, func(time.Time) tea.Msg { return statsTickMsg{} })
}

func clearNoticeAfter() tea.Cmd {
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return ClearNoticeMsg{} })
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if handled, cmd := m.handleKeyPress(msg); handled {
			return m, cmd
		}

	case ServerMessage:
		cmds = append(cmds, m.handleServerMessage(msg.Env), m.listenForEvents())

	case StateChangedMsg:
		cmds = append(cmds, m.handleStateChange(msg.Change), m.listenForEvents())

	case ConnectionErrorMsg:
		m.notice = fmt.Sprintf("连接错误: %v", msg.Err)
		cmds = append(cmds, clearNoticeAfter(), m.listenForEvents())

	case statsTickMsg:
		m.stats = m.conn.Stats()
		m.expireTyping()
		cmds = append(cmds, statsTick())

	case ClearNoticeMsg:
		m.notice = ""
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.transcript, cmd = m.transcript.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleStateChange 播放提示音并更新提示；认证已由握手完成
func (m *ChatModel) handleStateChange(c client.StateChange) tea.Cmd {
	m.stats = m.conn.Stats()

	switch {
	case c.To == client.StateConnected:
		m.sounds.Play(sound.CueConnected)
	case c.From == client.StateConnected:
		m.sounds.Play(sound.CueDisconnected)
		m.appendLine(systemLine("连接已断开"))
	case c.To == client.StateReconnecting:
		m.notice = fmt.Sprintf("🔄 正在重连 (%d/%d)...", m.stats.ReconnectAttempts, m.stats.MaxReconnectAttempts)
	case c.To == client.StateFailed:
		m.notice = "❌ 重连失败，输入 /connect 重试"
	}
	return nil
}

// syncAuth 凭证或恢复 token 变化后刷新握手内容
func (m *ChatModel) syncAuth() {
	if m.creds.Token == "" && m.resumeToken == "" {
		m.handshakeAuth.Store(nil)
		return
	}
	m.handshakeAuth.Store(&protocol.AuthPayload{
		Token:       m.creds.Token,
		Name:        m.creds.Name,
		ResumeToken: m.resumeToken,
	})
}

// handshake 每次连接成功后首先发送 auth（有恢复 token 时优先恢复）
func (m *ChatModel) handshake() []*protocol.Envelope {
	auth := m.handshakeAuth.Load()
	if auth == nil {
		return nil
	}
	env, err := codec.NewMessage(protocol.MsgAuth, *auth)
	if err != nil {
		return nil
	}
	return []*protocol.Envelope{env}
}

// appendLine 追加一行到记录并滚动到底部
func (m *ChatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
	m.refreshTranscript()
}

func (m *ChatModel) expireTyping() {
	cutoff := m.now().Add(-typingExpire)
	for id, at := range m.typingPeers {
		if at.Before(cutoff) {
			delete(m.typingPeers, id)
		}
	}
}
