package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/realtime-chat/internal/client"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/sound"
)

// newTestModel 连接管理器从不拨号，发送的消息都进入队列
func newTestModel(t *testing.T, creds Credentials) *ChatModel {
	t.Helper()

	conn := client.NewManager(client.Options{
		Endpoint:             "ws://127.0.0.1:1/ws",
		MaxReconnectAttempts: 1,
		QueueLimit:           10,
	})
	t.Cleanup(conn.Disconnect)

	m := NewChatModel(conn, sound.NewPlayer(), creds)
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func transcript(m *ChatModel) string {
	return strings.Join(m.lines, "\n")
}

func serverMsg(msgType protocol.MessageType, payload any) ServerMessage {
	return ServerMessage{Env: codec.MustNewMessage(msgType, payload)}
}

// handshakeAuth 解析握手中的 auth 消息
func handshakeAuth(t *testing.T, m *ChatModel) protocol.AuthPayload {
	t.Helper()
	envs := m.handshake()
	require.Len(t, envs, 1)
	require.Equal(t, protocol.MsgAuth, envs[0].Type)
	auth, err := codec.ParsePayload[protocol.AuthPayload](envs[0])
	require.NoError(t, err)
	return *auth
}

func enter(m *ChatModel, text string) tea.Cmd {
	m.input.SetValue(text)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"/ping", "ping", []string{}},
		{"/History 20 abc", "history", []string{"20", "abc"}},
		{"/auth  tok   alice", "auth", []string{"tok", "alice"}},
		{"/", "", nil},
	}
	for _, tt := range tests {
		tt := tt
		name, args := parseCommand(tt.input)
		assert.Equal(t, tt.name, name, tt.input)
		assert.Equal(t, tt.args, args, tt.input)
	}
}

func TestChatModel_ChatMessage(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	msg := serverMsg(protocol.MsgChat, protocol.ChatText{Text: "hello there"})
	msg.Env.ClientID = "bob"
	m.Update(msg)

	out := transcript(m)
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "hello there")
}

func TestChatModel_ChatNonTextPayload(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	m.Update(serverMsg(protocol.MsgChat, map[string]int{"n": 1}))

	assert.Contains(t, transcript(m), `{"n":1}`)
	assert.Contains(t, transcript(m), protocol.DefaultClientID)
}

func TestChatModel_SubmitQueuesWhileDisconnected(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	cmd := enter(m, "hi")

	assert.NotNil(t, cmd)
	assert.Equal(t, 1, m.conn.Stats().QueueDepth)
	assert.Contains(t, m.notice, "已排队")
	assert.Empty(t, m.input.Value())
}

func TestChatModel_EmptySubmitIgnored(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	enter(m, "   ")
	assert.Equal(t, 0, m.conn.Stats().QueueDepth)
}

func TestChatModel_Commands(t *testing.T) {
	t.Parallel()

	t.Run("history queues a request", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/history 20")
		assert.Equal(t, 1, m.conn.Stats().QueueDepth)
	})

	t.Run("auth without token shows usage", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/auth")
		assert.Contains(t, m.notice, "用法")
		assert.Equal(t, 0, m.conn.Stats().QueueDepth)
	})

	t.Run("auth while disconnected waits for handshake", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/auth tok alice smith")
		assert.Equal(t, "tok", m.creds.Token)
		assert.Equal(t, "alice smith", m.creds.Name)
		assert.Equal(t, 0, m.conn.Stats().QueueDepth)
		assert.Equal(t, protocol.AuthPayload{Token: "tok", Name: "alice smith"}, handshakeAuth(t, m))
	})

	t.Run("ping while disconnected", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/ping")
		assert.Contains(t, m.notice, "ping 失败")
	})

	t.Run("help", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/help")
		assert.Contains(t, transcript(m), "/history")
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		enter(m, "/dance")
		assert.Contains(t, m.notice, "/dance")
	})

	t.Run("quit", func(t *testing.T) {
		t.Parallel()
		m := newTestModel(t, Credentials{})
		cmd := enter(m, "/quit")
		require.NotNil(t, cmd)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok)
	})
}

func TestChatModel_CtrlCQuits(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestChatModel_AuthResponse(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{Token: "tok", Name: "alice"})
	m.Update(serverMsg(protocol.MsgAuthResponse, protocol.AuthResponsePayload{
		Success:     true,
		SessionID:   "s-1",
		Identity:    "alice",
		ResumeToken: "resume-1",
	}))

	assert.Equal(t, "alice", m.identity)
	assert.Equal(t, "resume-1", m.resumeToken)
	assert.Contains(t, transcript(m), "s-1")
	assert.Equal(t, "resume-1", handshakeAuth(t, m).ResumeToken)

	m.Update(serverMsg(protocol.MsgAuthResponse, protocol.AuthResponsePayload{Reason: "missing token"}))
	assert.Empty(t, m.resumeToken)
	assert.Contains(t, m.notice, "missing token")
	assert.Empty(t, handshakeAuth(t, m).ResumeToken)
}

func TestChatModel_HandshakeCarriesCredentials(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{Token: "tok", Name: "alice"})
	assert.Equal(t, protocol.AuthPayload{Token: "tok", Name: "alice"}, handshakeAuth(t, m))

	// 认证不再依赖状态回调，不会额外排队
	m.Update(StateChangedMsg{Change: client.StateChange{From: client.StateConnecting, To: client.StateConnected}})
	assert.Equal(t, 0, m.conn.Stats().QueueDepth)
}

func TestChatModel_NoHandshakeWithoutCredentials(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	assert.Empty(t, m.handshake())
}

func TestChatModel_StateNotices(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})

	m.Update(StateChangedMsg{Change: client.StateChange{From: client.StateConnected, To: client.StateReconnecting}})
	assert.Contains(t, transcript(m), "连接已断开")

	m.Update(StateChangedMsg{Change: client.StateChange{From: client.StateConnecting, To: client.StateFailed}})
	assert.Contains(t, m.notice, "/connect")
}

func TestChatModel_History(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	m.Update(serverMsg(protocol.MsgHistory, protocol.HistoryPayload{
		SessionID: "s-1",
		Messages: []protocol.HistoryMessage{
			{ID: "1", Type: protocol.MsgChat, ClientID: "a", Payload: []byte(`{"text":"first"}`), Timestamp: protocol.Now()},
			{ID: "2", Type: protocol.MsgChat, ClientID: "b", Payload: []byte(`{"text":"second"}`), Timestamp: protocol.Now()},
		},
	}))

	require.Len(t, m.lines, 3)
	assert.Contains(t, m.lines[0], "2")
	assert.Contains(t, m.lines[1], "first")
	assert.Contains(t, m.lines[2], "second")
}

func TestChatModel_TypingIndicator(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	now := time.Now()
	m.now = func() time.Time { return now }

	msg := serverMsg(protocol.MsgTyping, protocol.TypingPayload{IsTyping: true})
	msg.Env.ClientID = "bob"
	m.Update(msg)
	assert.Contains(t, m.View(), "正在输入")

	now = now.Add(typingExpire + time.Second)
	m.Update(statsTickMsg{})
	assert.NotContains(t, m.View(), "正在输入")
}

func TestChatModel_ErrorAndSystem(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})

	m.Update(ServerMessage{Env: codec.NewErrorMessage(protocol.ErrCodeRateLimit)})
	assert.Contains(t, m.notice, protocol.ErrorMessages[protocol.ErrCodeRateLimit])

	m.Update(serverMsg(protocol.MsgSystem, protocol.SystemPayload{Event: protocol.SystemEventConnected, PeerID: "p-9"}))
	assert.Contains(t, transcript(m), "p-9")

	m.Update(serverMsg(protocol.MsgSystem, protocol.SystemPayload{Event: protocol.SystemEventMaintenance}))
	assert.Contains(t, m.notice, "维护")

	m.Update(ClearNoticeMsg{})
	assert.Empty(t, m.notice)
}

func TestChatModel_Echo(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{})
	env := codec.MustNewMessage(protocol.MsgEcho, map[string]string{"x": "y"})
	env.OriginalType = "dance"
	m.Update(ServerMessage{Env: env})

	assert.Contains(t, transcript(m), "dance")
}

func TestChatModel_StatusBar(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, Credentials{Name: "alice"})
	view := m.View()

	assert.Contains(t, view, "DISCONNECTED")
	assert.Contains(t, view, "alice")
	assert.Contains(t, view, "队列 0")
}
