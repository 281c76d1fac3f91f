package handler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/server/session"
	"github.com/palemoky/realtime-chat/internal/types"
)

// 历史存储操作超时
const storeTimeout = 3 * time.Second

// handleChat 处理聊天消息：写入发送者历史后广播给所有连接（包括发送者）
func (h *Handler) handleChat(peer types.PeerInterface, msg codec.Message) {
	chat, _ := msg.(codec.ChatMessage)

	if sess := h.sessionFor(peer); sess != nil && !sess.HasPermission(session.PermChatWrite) {
		peer.SendMessage(codec.NewErrorMessage(protocol.ErrCodeForbidden))
		return
	}

	// 聊天限流检查
	if h.chatLimiter != nil {
		allowed, reason := h.chatLimiter.AllowChat(peer.GetID())
		if !allowed {
			peer.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeRateLimit, reason))
			return
		}
	}

	out := &protocol.Envelope{
		Type:      protocol.MsgChat,
		Payload:   chat.Payload,
		Timestamp: protocol.Now(),
		ClientID:  chat.ClientID,
	}

	h.persist(types.HistoryKey(peer), out)
	h.registry.Broadcast(out)
}

// persist 写入历史，失败只记录日志
func (h *Handler) persist(key string, msg *protocol.Envelope) {
	if h.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := h.history.Append(ctx, key, protocol.HistoryMessage{
		ID:        uuid.NewString(),
		Type:      msg.Type,
		ClientID:  msg.ClientID,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		log.Printf("⚠️ 保存聊天历史失败 (会话: %s): %v", key, err)
	}
}

// handleTyping 把输入状态转发给除发送者外的所有连接
func (h *Handler) handleTyping(peer types.PeerInterface, msg codec.Message) {
	typing, _ := msg.(codec.TypingMessage)

	out := codec.MustNewMessage(protocol.MsgTyping, typing.Typing)
	out.ClientID = typing.ClientID
	h.registry.BroadcastExcept(out, peer.GetID())
}
