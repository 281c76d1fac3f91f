package handler

import (
	"context"
	"log"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/server/session"
	"github.com/palemoky/realtime-chat/internal/types"
)

// handleHistoryRequest 回放历史消息，最早的在前
func (h *Handler) handleHistoryRequest(peer types.PeerInterface, msg codec.Message) {
	req, _ := msg.(codec.HistoryRequestMessage)

	sess := h.sessionFor(peer)
	if sess != nil && !sess.HasPermission(session.PermHistoryRead) {
		peer.SendMessage(codec.NewErrorMessage(protocol.ErrCodeForbidden))
		return
	}

	own := types.HistoryKey(peer)
	key := req.Request.SessionID
	if key == "" {
		key = own
	}

	// 读取他人历史需要管理权限
	if key != own {
		if sess == nil {
			peer.SendMessage(codec.NewErrorMessage(protocol.ErrCodeUnauthorized))
			return
		}
		if !sess.HasPermission(session.PermAdmin) {
			peer.SendMessage(codec.NewErrorMessage(protocol.ErrCodeForbidden))
			return
		}
	}

	limit := req.Request.Limit
	if limit <= 0 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	messages := []protocol.HistoryMessage{}
	if h.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		loaded, err := h.history.LoadHistory(ctx, key, limit)
		if err != nil {
			log.Printf("⚠️ 读取聊天历史失败 (会话: %s): %v", key, err)
			peer.SendMessage(codec.NewErrorMessage(protocol.ErrCodeHistoryFailed))
			return
		}
		if loaded != nil {
			messages = loaded
		}
	}

	peer.SendMessage(codec.MustNewMessage(protocol.MsgHistory, protocol.HistoryPayload{
		SessionID: key,
		Messages:  messages,
	}))
}
