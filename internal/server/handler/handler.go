package handler

import (
	"log"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/server/session"
	"github.com/palemoky/realtime-chat/internal/types"
)

// 单次历史回放的默认条数
const defaultHistoryLimit = 100

// HandlerDeps 处理器依赖
type HandlerDeps struct {
	Registry      types.RegistryInterface
	History       types.HistoryStore
	Authenticator types.Authenticator
	Sessions      *session.Manager
	ChatLimiter   types.ChatLimiter
	HistoryLimit  int
}

// Handler 消息路由器，按消息类型分发
type Handler struct {
	registry      types.RegistryInterface
	history       types.HistoryStore
	authenticator types.Authenticator
	sessions      *session.Manager
	chatLimiter   types.ChatLimiter
	historyLimit  int
	handlers      map[protocol.MessageType]handlerFunc
}

// handlerFunc 统一的处理器函数签名
type handlerFunc func(peer types.PeerInterface, msg codec.Message)

// NewHandler 创建处理器
func NewHandler(deps HandlerDeps) *Handler {
	h := &Handler{
		registry:      deps.Registry,
		history:       deps.History,
		authenticator: deps.Authenticator,
		sessions:      deps.Sessions,
		chatLimiter:   deps.ChatLimiter,
		historyLimit:  deps.HistoryLimit,
	}
	if h.historyLimit <= 0 {
		h.historyLimit = defaultHistoryLimit
	}
	h.initHandlers()
	return h
}

// initHandlers 初始化消息处理器映射
func (h *Handler) initHandlers() {
	h.handlers = map[protocol.MessageType]handlerFunc{
		// 连接操作
		protocol.MsgPing: h.handlePing,
		protocol.MsgAuth: h.handleAuth,

		// 聊天
		protocol.MsgChat:           h.handleChat,
		protocol.MsgTyping:         h.handleTyping,
		protocol.MsgHistoryRequest: h.handleHistoryRequest,
	}
}

// Handle 处理一条已解码的消息，未注册的类型原样回显
func (h *Handler) Handle(peer types.PeerInterface, msg codec.Message) {
	if handler, ok := h.handlers[msg.Kind()]; ok {
		handler(peer, msg)
		return
	}
	h.handleUnknown(peer, msg)
}

// HandleRaw 解码一帧并处理，解码失败回复错误
func (h *Handler) HandleRaw(peer types.PeerInterface, data []byte) {
	msg, err := codec.Parse(data)
	if err != nil {
		log.Printf("消息解析错误 (连接: %s): %v", peer.GetID(), err)
		peer.SendMessage(codec.NewErrorMessage(codec.ErrorCode(err)))
		return
	}
	h.Handle(peer, msg)
}

// handleUnknown 回显未知类型
func (h *Handler) handleUnknown(peer types.PeerInterface, msg codec.Message) {
	raw := msg.Raw()
	if raw.Type.Known() {
		// 服务端下行类型被客户端发回
		log.Printf("⚠️  收到服务端消息类型: '%s' (连接: %s)", raw.Type, peer.GetID())
	} else {
		log.Printf("⚠️  未知消息类型: '%s' (连接: %s), Payload长度=%d bytes", raw.Type, peer.GetID(), len(raw.Payload))
	}

	peer.SendMessage(&protocol.Envelope{
		Type:         protocol.MsgEcho,
		OriginalType: raw.Type,
		Payload:      raw.Payload,
		Timestamp:    protocol.Now(),
	})
}
