package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/realtime-chat/internal/apperrors"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

const waitFor = 2 * time.Second

// --- 测试服务器 ---

type testServer struct {
	*httptest.Server
	conns    atomic.Int32
	received chan *protocol.Envelope

	// dropFirst 为 true 时第一条连接建立后立即被关闭
	dropFirst bool
	// greet 非空时每条连接建立后先发送这条消息
	greet *protocol.Envelope
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{received: make(chan *protocol.Envelope, 64)}
	upgrader := websocket.Upgrader{}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := ts.conns.Add(1)
		if ts.dropFirst && n == 1 {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
			return
		}
		if ts.greet != nil {
			data, _ := codec.Encode(ts.greet)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := codec.Decode(data)
			if err != nil {
				continue
			}
			if env.Type == protocol.MsgPing {
				pong := codec.MustNewMessage(protocol.MsgPong, nil)
				pong.SentAt = env.SentAt
				out, _ := codec.Encode(pong)
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}
			ts.received <- env
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) endpoint() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-ts.received:
		return env
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for server to receive a message")
		return nil
	}
}

// deadEndpoint 返回一个已关闭服务器的地址，拨号必定失败
func deadEndpoint() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	return url
}

// --- 假调度器 ---

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// fire 模拟定时器到期
func (s *fakeScheduler) fire(i int) {
	s.timer(i).fn()
}

// --- helpers ---

func newTestManager(t *testing.T, endpoint string, sched Scheduler) *Manager {
	t.Helper()
	m := NewManager(Options{
		Endpoint:             endpoint,
		MaxReconnectAttempts: 3,
		BackoffBase:          100 * time.Millisecond,
		BackoffMax:           time.Second,
		QueueLimit:           10,
		HandshakeTimeout:     time.Second,
		Scheduler:            sched,
	})
	t.Cleanup(m.Disconnect)
	return m
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		waitFor, 5*time.Millisecond, "state never became %s (now %s)", want, m.State())
}

func chatMessage(t *testing.T, text string) *protocol.Envelope {
	t.Helper()
	env, err := codec.NewMessage(protocol.MsgChat, protocol.ChatText{Text: text})
	require.NoError(t, err)
	env.Timestamp = ""
	return env
}

func chatText(t *testing.T, env *protocol.Envelope) string {
	t.Helper()
	var payload protocol.ChatText
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload.Text
}

// --- tests ---

func TestBackoff(t *testing.T) {
	t.Parallel()

	base, ceiling := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{64, time.Second},
	}
	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.want, Backoff(tt.attempt, base, ceiling), "attempt %d", tt.attempt)
	}

	// 单调不减且不超过上限
	prev := time.Duration(0)
	for i := 1; i < 100; i++ {
		d := Backoff(i, base, ceiling)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, ceiling)
		prev = d
	}

	assert.Equal(t, time.Duration(0), Backoff(3, 0, ceiling))
	assert.Equal(t, 50*time.Millisecond, Backoff(3, time.Second, 50*time.Millisecond))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestDefaultEndpoint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "wss://chat.example.com/ws", DefaultEndpoint("chat.example.com"))
}

func TestManager_InitialState(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, deadEndpoint(), &fakeScheduler{})
	stats := m.Stats()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, StateDisconnected, stats.State)
	assert.Equal(t, 0, stats.QueueDepth)
	assert.Equal(t, 3, stats.MaxReconnectAttempts)
	assert.Equal(t, int64(-1), stats.LatencyMS)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	var connects atomic.Int32
	m.OnConnect(func() { connects.Add(1) })

	m.Connect()
	m.Connect()
	waitState(t, m, StateConnected)
	m.Connect()

	// 给可能的第二次拨号留出时间
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ts.conns.Load())
	assert.Equal(t, int32(1), connects.Load())
}

func TestManager_StateChangesInOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	changes, cancel := m.StateChanges(8)
	defer cancel()

	m.Connect()
	waitState(t, m, StateConnected)
	m.Disconnect()

	want := []StateChange{
		{From: StateDisconnected, To: StateConnecting},
		{From: StateConnecting, To: StateConnected},
		{From: StateConnected, To: StateDisconnected},
	}
	for _, w := range want {
		select {
		case got := <-changes:
			assert.Equal(t, w, got)
		case <-time.After(waitFor):
			t.Fatalf("missing state change %v", w)
		}
	}
}

func TestManager_QueuedMessagesFlushInOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	for _, text := range []string{"one", "two", "three"} {
		res, err := m.SendMessage(chatMessage(t, text))
		require.NoError(t, err)
		assert.Equal(t, SendQueued, res)
	}
	assert.Equal(t, 3, m.Stats().QueueDepth)

	// OnConnect 触发时队列已经交给连接
	var depthAtConnect atomic.Int32
	depthAtConnect.Store(-1)
	m.OnConnect(func() { depthAtConnect.Store(int32(m.Stats().QueueDepth)) })

	m.Connect()
	waitState(t, m, StateConnected)

	for _, want := range []string{"one", "two", "three"} {
		env := ts.next(t)
		assert.Equal(t, protocol.MsgChat, env.Type)
		assert.Equal(t, want, chatText(t, env))
		assert.NotEmpty(t, env.Timestamp, "timestamp filled at send time")
	}
	require.Eventually(t, func() bool { return depthAtConnect.Load() == 0 }, waitFor, 5*time.Millisecond)
}

func TestManager_QueueDropsOldest(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := NewManager(Options{
		Endpoint:             ts.endpoint(),
		MaxReconnectAttempts: 1,
		QueueLimit:           2,
		Scheduler:            &fakeScheduler{},
	})
	t.Cleanup(m.Disconnect)

	for _, text := range []string{"a", "b", "c"} {
		_, err := m.SendMessage(chatMessage(t, text))
		require.NoError(t, err)
	}
	stats := m.Stats()
	assert.Equal(t, 2, stats.QueueDepth)
	assert.Equal(t, 1, stats.Dropped)

	m.Connect()
	assert.Equal(t, "b", chatText(t, ts.next(t)))
	assert.Equal(t, "c", chatText(t, ts.next(t)))
}

func TestManager_SendWhileConnected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})
	m.Connect()
	waitState(t, m, StateConnected)

	env := chatMessage(t, "hi")
	res, err := m.SendMessage(env)
	require.NoError(t, err)
	assert.Equal(t, SendSent, res)
	assert.Empty(t, env.Timestamp, "caller's envelope untouched")

	got := ts.next(t)
	assert.Equal(t, "hi", chatText(t, got))
	_, err = protocol.ParseTimestamp(got.Timestamp)
	assert.NoError(t, err)
}

func TestManager_ReceivesMessages(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.greet = codec.MustNewMessage(protocol.MsgSystem, protocol.SystemPayload{Event: "connected"})
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	got := make(chan *protocol.Envelope, 1)
	m.OnMessage(func(env *protocol.Envelope) { got <- env })
	m.Connect()

	select {
	case env := <-got:
		assert.Equal(t, protocol.MsgSystem, env.Type)
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
	}
	assert.Equal(t, 1, m.Stats().MessagesLastMinute)
}

func TestManager_PingMeasuresLatency(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	assert.ErrorIs(t, m.Ping(), apperrors.ErrNotConnected)

	m.Connect()
	waitState(t, m, StateConnected)
	require.NoError(t, m.Ping())

	env := ts.next(t)
	assert.Equal(t, protocol.MsgPing, env.Type)
	require.NotNil(t, env.SentAt)

	require.Eventually(t, func() bool { return m.Stats().LatencyMS >= 0 }, waitFor, 5*time.Millisecond)
}

func TestManager_HeartbeatSendsPings(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})
	m.Connect()
	waitState(t, m, StateConnected)

	m.StartHeartbeat(10 * time.Millisecond)
	assert.Equal(t, protocol.MsgPing, ts.next(t).Type)
	assert.Equal(t, protocol.MsgPing, ts.next(t).Type)
}

func TestManager_HeartbeatFollowsConnection(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	// 连接前设置的心跳在连接后才开始
	m.StartHeartbeat(10 * time.Millisecond)
	m.Connect()
	assert.Equal(t, protocol.MsgPing, ts.next(t).Type)

	m.Disconnect()
	m.Connect()
	require.Eventually(t, func() bool { return ts.conns.Load() == 2 }, waitFor, 5*time.Millisecond)
	reconnectedAt := time.Now().UnixMilli()

	require.Eventually(t, func() bool {
		select {
		case env := <-ts.received:
			return env.Type == protocol.MsgPing && env.SentAt != nil && *env.SentAt >= reconnectedAt
		default:
			return false
		}
	}, waitFor, time.Millisecond, "heartbeat did not resume after reconnect")
}

func TestManager_HandshakeSentBeforeQueue(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var calls atomic.Int32
	m := NewManager(Options{
		Endpoint:             ts.endpoint(),
		MaxReconnectAttempts: 1,
		Scheduler:            &fakeScheduler{},
		Handshake: func() []*protocol.Envelope {
			calls.Add(1)
			return []*protocol.Envelope{
				codec.MustNewMessage(protocol.MsgAuth, protocol.AuthPayload{Token: "tok"}),
				nil,
			}
		},
	})
	t.Cleanup(m.Disconnect)

	_, err := m.SendMessage(chatMessage(t, "offline"))
	require.NoError(t, err)

	m.Connect()
	assert.Equal(t, protocol.MsgAuth, ts.next(t).Type)
	assert.Equal(t, "offline", chatText(t, ts.next(t)))

	// 每次连接都重新握手
	m.Disconnect()
	m.Connect()
	assert.Equal(t, protocol.MsgAuth, ts.next(t).Type)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_SetHandshake(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})
	m.SetHandshake(func() []*protocol.Envelope {
		return []*protocol.Envelope{codec.MustNewMessage(protocol.MsgAuth, protocol.AuthPayload{Token: "tok"})}
	})

	m.Connect()
	assert.Equal(t, protocol.MsgAuth, ts.next(t).Type)
}

func TestManager_ReconnectUntilFailed(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := newTestManager(t, deadEndpoint(), sched)

	var errs atomic.Int32
	m.OnError(func(error) { errs.Add(1) })

	m.Connect()
	for i := 0; i < 3; i++ {
		require.Eventually(t, func() bool { return sched.count() == i+1 }, waitFor, 5*time.Millisecond)
		assert.Equal(t, StateReconnecting, m.State())
		assert.Equal(t, i+1, m.Stats().ReconnectAttempts)
		sched.fire(i)
	}

	waitState(t, m, StateFailed)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, sched.delays())
	require.Eventually(t, func() bool { return errs.Load() == 4 }, waitFor, 5*time.Millisecond)

	// Failed 后再次 Connect 重新计数
	m.Connect()
	require.Eventually(t, func() bool { return sched.count() == 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, m.Stats().ReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, sched.timer(3).delay)
}

func TestManager_DisconnectCancelsReconnect(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	m := newTestManager(t, deadEndpoint(), sched)

	m.Connect()
	require.Eventually(t, func() bool { return sched.count() == 1 }, waitFor, 5*time.Millisecond)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, sched.timer(0).stopped.Load())

	// 已取消的定时器即便触发也不再拨号
	sched.fire(0)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, sched.count())
}

func TestManager_DisconnectKeepsQueue(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, deadEndpoint(), &fakeScheduler{})
	_, err := m.SendMessage(chatMessage(t, "later"))
	require.NoError(t, err)

	m.Disconnect()
	assert.Equal(t, 1, m.Stats().QueueDepth)
}

func TestManager_ServerCloseTriggersReconnect(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.dropFirst = true
	sched := &fakeScheduler{}
	m := newTestManager(t, ts.endpoint(), sched)

	var disconnects atomic.Int32
	m.OnDisconnect(func() { disconnects.Add(1) })

	m.Connect()
	require.Eventually(t, func() bool { return sched.count() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateReconnecting, m.State())
	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, waitFor, 5*time.Millisecond)

	sched.fire(0)
	waitState(t, m, StateConnected)
	assert.Equal(t, 0, m.Stats().ReconnectAttempts)
	assert.Equal(t, int32(2), ts.conns.Load())
}

func TestManager_Unsubscribe(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	var removed, kept atomic.Int32
	unsubscribe := m.OnStateChange(func(StateChange) { removed.Add(1) })
	m.OnStateChange(func(StateChange) { kept.Add(1) })

	unsubscribe()
	unsubscribe()

	m.Connect()
	waitState(t, m, StateConnected)
	require.Eventually(t, func() bool { return kept.Load() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(0), removed.Load())
}

func TestManager_ListenerPanicIsolated(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	var called atomic.Bool
	m.OnConnect(func() { panic("boom") })
	m.OnConnect(func() { called.Store(true) })

	m.Connect()
	require.Eventually(t, called.Load, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
}

func TestManager_ListenerMayCallBack(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	m := newTestManager(t, ts.endpoint(), &fakeScheduler{})

	// 回调里调用 Disconnect 不会死锁
	m.OnConnect(m.Disconnect)
	m.Connect()

	require.Eventually(t, func() bool { return ts.conns.Load() == 1 }, waitFor, 5*time.Millisecond)
	waitState(t, m, StateDisconnected)
}
