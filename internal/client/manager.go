// Package client implements the client-side connection manager: a
// reconnecting WebSocket transport with an outbound queue and listeners.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/realtime-chat/internal/apperrors"
	"github.com/palemoky/realtime-chat/internal/config"
	"github.com/palemoky/realtime-chat/internal/logger"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

const (
	writeWait = 10 * time.Second

	// 连接发送通道在队列上限之外的余量
	sendBufferSize = 256

	// 消息速率统计窗口
	rateWindow = time.Minute

	defaultQueueLimit = 1000
)

// Options 连接管理器参数
type Options struct {
	Endpoint             string
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	QueueLimit           int
	HandshakeTimeout     time.Duration

	// Handshake 每次连接成功后最先发送的消息（如认证），早于队列；在管理器锁内调用，不能回调 Manager
	Handshake func() []*protocol.Envelope

	Scheduler Scheduler        // 为空时使用 RealScheduler
	Now       func() time.Time // 为空时使用 time.Now
}

// OptionsFromConfig 从客户端配置生成参数
func OptionsFromConfig(cfg *config.ClientConfig) Options {
	return Options{
		Endpoint:             cfg.Endpoint,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BackoffBase:          cfg.BackoffBase(),
		BackoffMax:           cfg.BackoffMax(),
		QueueLimit:           cfg.QueueLimit,
		HandshakeTimeout:     cfg.HandshakeTimeoutDuration(),
	}
}

// DefaultEndpoint 返回主机的安全 WebSocket 地址
func DefaultEndpoint(host string) string {
	return "wss://" + host + "/ws"
}

// connection 一代底层连接，重连后旧连接的事件按 gen 丢弃
type connection struct {
	gen  uint64
	ws   *websocket.Conn
	send chan []byte
}

// Manager 客户端连接管理器
type Manager struct {
	opts   Options
	dialer websocket.Dialer

	mu          sync.Mutex
	state       State
	gen         uint64
	conn        *connection
	dialCancel  context.CancelFunc
	retryTimer  Stopper
	attempts    int
	queue       [][]byte
	dropped     int
	received    []time.Time
	latency     int64
	pending     []event
	dispatching bool

	handshake         func() []*protocol.Envelope
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}

	onMessage     listeners[func(*protocol.Envelope)]
	onConnect     listeners[func()]
	onDisconnect  listeners[func()]
	onError       listeners[func(error)]
	onStateChange listeners[func(StateChange)]
}

type eventKind int

const (
	evMessage eventKind = iota
	evConnect
	evDisconnect
	evError
	evState
)

type event struct {
	kind   eventKind
	msg    *protocol.Envelope
	err    error
	change StateChange
}

// NewManager 创建连接管理器，初始状态为 Disconnected
func NewManager(opts Options) *Manager {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint("localhost")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = defaultQueueLimit
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}

	return &Manager{
		opts:      opts,
		dialer:    websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		latency:   -1,
		handshake: opts.Handshake,
	}
}

// --- 订阅 ---

// OnMessage 注册消息回调，返回取消函数
func (m *Manager) OnMessage(fn func(*protocol.Envelope)) func() { return m.onMessage.add(fn) }

// OnConnect 注册连接成功回调，队列已先行发送
func (m *Manager) OnConnect(fn func()) func() { return m.onConnect.add(fn) }

// OnDisconnect 注册连接断开回调
func (m *Manager) OnDisconnect(fn func()) func() { return m.onDisconnect.add(fn) }

// OnError 注册错误回调
func (m *Manager) OnError(fn func(error)) func() { return m.onError.add(fn) }

// OnStateChange 注册状态迁移回调
func (m *Manager) OnStateChange(fn func(StateChange)) func() { return m.onStateChange.add(fn) }

// StateChanges 以通道形式订阅状态迁移，消费过慢时丢弃
func (m *Manager) StateChanges(buffer int) (<-chan StateChange, func()) {
	ch := make(chan StateChange, buffer)
	cancel := m.onStateChange.add(func(c StateChange) {
		select {
		case ch <- c:
		default:
		}
	})
	return ch, cancel
}

// SetHandshake 替换连接成功后的握手消息来源，下次连接生效
func (m *Manager) SetHandshake(fn func() []*protocol.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handshake = fn
}

// --- 状态查询 ---

// State 返回当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats 返回连接统计
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneRateLocked()
	return Stats{
		State:                m.state,
		QueueDepth:           len(m.queue),
		Dropped:              m.dropped,
		ReconnectAttempts:    m.attempts,
		MaxReconnectAttempts: m.opts.MaxReconnectAttempts,
		MessagesLastMinute:   len(m.received),
		LatencyMS:            m.latency,
	}
}

// --- 连接控制 ---

// Connect 开始连接；已在连接中、已连接或等待重连时不做任何事
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return
	case StateFailed:
		m.attempts = 0
	}
	m.startAttemptLocked()
	m.unlockAndDispatch()
}

// Disconnect 主动断开，取消待执行的重连并暂停心跳，不触发自动重连
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.cancelPendingLocked()
	m.stopHeartbeatLocked()

	wasConnected := m.state == StateConnected
	if m.conn != nil {
		close(m.conn.send)
		m.conn = nil
	}
	m.attempts = 0
	if wasConnected {
		m.emitLocked(event{kind: evDisconnect})
	}
	m.setStateLocked(StateDisconnected)
	m.unlockAndDispatch()
}

// SendMessage 已连接时立即发送，否则进入发送队列
func (m *Manager) SendMessage(env *protocol.Envelope) (SendResult, error) {
	data, err := encodeOutgoing(env)
	if err != nil {
		return SendQueued, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected && m.conn != nil {
		select {
		case m.conn.send <- data:
			return SendSent, nil
		default:
			return SendQueued, apperrors.ErrSendBufferFull
		}
	}

	m.enqueueLocked(data)
	return SendQueued, nil
}

// Ping 发送带 sentAt 的 ping，收到对应 pong 后更新延迟
func (m *Manager) Ping() error {
	env := codec.MustNewMessage(protocol.MsgPing, nil)
	env.SentAt = protocol.Int64Ptr(m.opts.Now().UnixMilli())

	data, err := codec.Encode(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return apperrors.ErrNotConnected
	}
	select {
	case m.conn.send <- data:
		return nil
	default:
		return apperrors.ErrSendBufferFull
	}
}

// StartHeartbeat 设置心跳间隔：每次进入 Connected 时开始按间隔 ping，离开时停止
func (m *Manager) StartHeartbeat(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopHeartbeatLocked()
	m.heartbeatInterval = interval
	if m.state == StateConnected {
		m.startHeartbeatLocked()
	}
}

// encodeOutgoing 复制消息并补上发送时间戳后编码，不修改调用方的消息
func encodeOutgoing(env *protocol.Envelope) ([]byte, error) {
	out := *env
	if out.Timestamp == "" {
		out.Timestamp = protocol.Now()
	}
	data, err := codec.Encode(&out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return data, nil
}

// --- 内部状态机 ---

func (m *Manager) startHeartbeatLocked() {
	interval := m.heartbeatInterval
	if interval <= 0 || m.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = m.Ping()
			}
		}
	}()
}

// startAttemptLocked 进入 Connecting 并异步拨号
func (m *Manager) startAttemptLocked() {
	m.gen++
	gen := m.gen
	m.retryTimer = nil

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.setStateLocked(StateConnecting)

	go m.dial(ctx, gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	ws, resp, err := m.dialer.DialContext(ctx, m.opts.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		// 拨号期间已 Disconnect 或重新开始
		m.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.failLocked(fmt.Errorf("dial %s: %w", m.opts.Endpoint, err))
		m.unlockAndDispatch()
		return
	}

	c := &connection{
		gen:  gen,
		ws:   ws,
		send: make(chan []byte, m.opts.QueueLimit+sendBufferSize),
	}
	m.conn = c
	m.attempts = 0
	m.setStateLocked(StateConnected)

	// 握手消息最先发出，随后按 FIFO 清空队列，均早于 OnConnect 回调
	m.sendHandshakeLocked(c)
	for _, data := range m.queue {
		c.send <- data
	}
	m.queue = nil
	m.startHeartbeatLocked()
	m.emitLocked(event{kind: evConnect})

	go m.writePump(c)
	go m.readPump(c)
	m.unlockAndDispatch()
}

func (m *Manager) sendHandshakeLocked(c *connection) {
	if m.handshake == nil {
		return
	}
	for _, env := range m.handshake() {
		if env == nil {
			continue
		}
		data, err := encodeOutgoing(env)
		if err != nil {
			log.Printf("⚠️ 握手消息编码失败: %v", err)
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("⚠️ 发送通道已满，丢弃握手消息 %s", env.Type)
		}
	}
}

// failLocked 记录一次失败：还有次数则退避后重连，否则进入 Failed
func (m *Manager) failLocked(err error) {
	m.emitLocked(event{kind: evError, err: err})

	m.attempts++
	if limit := m.opts.MaxReconnectAttempts; m.attempts > limit {
		log.Printf("❌ 重连 %d 次失败，放弃", limit)
		m.setStateLocked(StateFailed)
		return
	}

	delay := Backoff(m.attempts, m.opts.BackoffBase, m.opts.BackoffMax)
	m.setStateLocked(StateReconnecting)

	gen := m.gen
	m.retryTimer = m.opts.Scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.startAttemptLocked()
		m.unlockAndDispatch()
	})
}

// transportLost 读协程退出时调用
func (m *Manager) transportLost(c *connection, err error) {
	m.mu.Lock()
	if c.gen != m.gen || m.conn != c {
		m.mu.Unlock()
		return
	}

	close(c.send)
	m.conn = nil
	m.stopHeartbeatLocked()
	m.emitLocked(event{kind: evDisconnect})

	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = apperrors.ErrClosed
	}
	m.failLocked(err)
	m.unlockAndDispatch()
}

func (m *Manager) cancelPendingLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// enqueueLocked 入队，超过上限时挤掉最早的消息
func (m *Manager) enqueueLocked(data []byte) {
	if len(m.queue) >= m.opts.QueueLimit {
		drop := len(m.queue) - m.opts.QueueLimit + 1
		m.queue = m.queue[drop:]
		m.dropped += drop
	}
	m.queue = append(m.queue, data)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	change := StateChange{From: m.state, To: s}
	m.state = s
	m.emitLocked(event{kind: evState, change: change})
}

func (m *Manager) pruneRateLocked() {
	cutoff := m.opts.Now().Add(-rateWindow)
	i := 0
	for i < len(m.received) && m.received[i].Before(cutoff) {
		i++
	}
	m.received = m.received[i:]
}

// --- 事件派发 ---

func (m *Manager) emitLocked(ev event) {
	m.pending = append(m.pending, ev)
}

// unlockAndDispatch 释放锁并按产生顺序派发事件；回调中再次触发的事件由当前派发者继续处理
func (m *Manager) unlockAndDispatch() {
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, ev := range batch {
			m.fire(ev)
		}
		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

func (m *Manager) fire(ev event) {
	switch ev.kind {
	case evMessage:
		for _, fn := range m.onMessage.snapshot() {
			safeCall(func() { fn(ev.msg) })
		}
	case evConnect:
		for _, fn := range m.onConnect.snapshot() {
			safeCall(fn)
		}
	case evDisconnect:
		for _, fn := range m.onDisconnect.snapshot() {
			safeCall(fn)
		}
	case evError:
		for _, fn := range m.onError.snapshot() {
			safeCall(func() { fn(ev.err) })
		}
	case evState:
		for _, fn := range m.onStateChange.snapshot() {
			safeCall(func() { fn(ev.change) })
		}
	}
}

// safeCall 单个回调 panic 不影响其他回调
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] listener panic recovered: %v", r)
		}
	}()
	fn()
}

// --- 读写协程 ---

func (m *Manager) readPump(c *connection) {
	var readErr error
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] readPump panic recovered: %v", r)
			readErr = fmt.Errorf("read pump panic: %v", r)
		}
		m.transportLost(c, readErr)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		m.handleIncoming(data)
	}
}

func (m *Manager) handleIncoming(data []byte) {
	env, err := codec.Decode(data)

	m.mu.Lock()
	if err != nil {
		m.emitLocked(event{kind: evError, err: err})
		m.unlockAndDispatch()
		return
	}

	now := m.opts.Now()
	m.received = append(m.received, now)
	m.pruneRateLocked()

	if env.Type == protocol.MsgPong && env.SentAt != nil {
		m.latency = now.UnixMilli() - *env.SentAt
	}
	m.emitLocked(event{kind: evMessage, msg: env})
	m.unlockAndDispatch()
}

func (m *Manager) writePump(c *connection) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] writePump panic recovered: %v", r)
		}
		_ = c.ws.Close()
	}()

	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// 通道关闭表示主动断开
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("发送关闭帧失败: %v", err)
	}
}
