package server

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/palemoky/realtime-chat/internal/logger"
	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 消息最大大小
	maxMessageSize = 64 * 1024

	// 发送缓冲区大小
	sendBufferSize = 256
)

// Peer 代表一个已连接的对端
type Peer struct {
	ID string
	IP string

	server *Server
	conn   *websocket.Conn
	send   chan []byte

	mu        sync.RWMutex
	sessionID string
	closed    bool
}

// NewPeer 创建新对端
func NewPeer(s *Server, conn *websocket.Conn) *Peer {
	return &Peer{
		ID:     uuid.NewString(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ReadPump 从 WebSocket 读取消息并交给路由器
func (p *Peer) ReadPump() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] ReadPump panic recovered: %v", r)
		}
		p.server.handlePeerGone(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetPongHandler(func(string) error {
		p.server.registry.MarkAlive(p.ID)
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("读取错误 (连接 %s): %v", p.ID, err)
			}
			return
		}

		// 消息速率限制检查
		allowed, warning := p.server.messageLimiter.AllowMessage(p.ID)
		if !allowed {
			log.Printf("⚠️ 连接 %s (IP: %s) 消息过于频繁", p.ID, p.IP)
			p.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeRateLimit, "消息发送过于频繁"))
			if p.server.messageLimiter.ShouldDisconnect(p.ID) {
				log.Printf("🚫 连接 %s 因多次超速被断开", p.ID)
				return
			}
			continue
		}
		if warning {
			p.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeRateLimit, "请求过于频繁，请放慢速度"))
		}

		p.server.handler.HandleRaw(p, message)
	}
}

// WritePump 向 WebSocket 写入消息，心跳 ping 由注册表巡检发送
func (p *Peer) WritePump() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] WritePump panic recovered: %v", r)
		}
		_ = p.conn.Close()
	}()

	for message := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// 通道已关闭
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// GetID 返回连接 ID
func (p *Peer) GetID() string {
	return p.ID
}

// GetSessionID 返回绑定的会话 ID，未认证为空
func (p *Peer) GetSessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

// BindSession 绑定会话
func (p *Peer) BindSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
}

// SendMessage 编码并放入发送缓冲区，缓冲区满时关闭连接
func (p *Peer) SendMessage(msg *protocol.Envelope) {
	data, err := codec.Encode(msg)
	if err != nil {
		log.Printf("消息编码错误: %v", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.send <- data:
	default:
		log.Printf("连接 %s 发送缓冲区已满", p.ID)
		go p.Close()
	}
}

// Ping 发送协议层 ping 控制帧
func (p *Peer) Ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close 关闭发送通道，写协程发送关闭帧后断开
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// Terminate 立即断开底层连接，用于心跳超时
func (p *Peer) Terminate() {
	p.Close()
	_ = p.conn.Close()
}
