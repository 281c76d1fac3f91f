package handler

import (
	"encoding/json"
	"log"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/server/session"
	"github.com/palemoky/realtime-chat/internal/types"
)

// handlePing 回复 pong，原样带回 sentAt 供客户端计算延迟
func (h *Handler) handlePing(peer types.PeerInterface, msg codec.Message) {
	ping, _ := msg.(codec.PingMessage)

	pong := codec.MustNewMessage(protocol.MsgPong, nil)
	pong.SentAt = ping.SentAt
	peer.SendMessage(pong)
}

// handleAuth 校验凭证并把连接绑定到聊天会话
func (h *Handler) handleAuth(peer types.PeerInterface, msg codec.Message) {
	auth, _ := msg.(codec.AuthMessage)

	if h.sessions == nil {
		h.sendAuthFailure(peer, "authentication unavailable")
		return
	}

	if resumed := h.tryResume(peer, auth.Credentials); resumed != nil {
		h.releaseSession(peer, resumed.SessionID)
		peer.BindSession(resumed.SessionID)
		log.Printf("🔄 连接 %s 恢复会话 %s (%s)", peer.GetID(), resumed.SessionID, resumed.Identity)
		peer.SendMessage(codec.MustNewMessage(protocol.MsgAuthResponse, authResponse(resumed, true)))
		return
	}

	if h.authenticator == nil {
		h.sendAuthFailure(peer, "authentication unavailable")
		return
	}

	result := h.authenticator.ValidateCredentials(auth.Credentials)
	if !result.Success {
		log.Printf("🚫 连接 %s 认证失败: %s", peer.GetID(), result.Reason)
		h.sendAuthFailure(peer, result.Reason)
		return
	}

	sess := h.sessions.CreateSession(peer.GetID(), result.Identity, result.Permissions)
	h.releaseSession(peer, sess.SessionID)
	peer.BindSession(sess.SessionID)
	log.Printf("🔑 连接 %s 认证成功: %s (会话 %s)", peer.GetID(), sess.Identity, sess.SessionID)

	peer.SendMessage(codec.MustNewMessage(protocol.MsgAuthResponse, authResponse(sess, false)))
}

// releaseSession 重新认证时把连接原先绑定的会话标记离线，交给过期清理回收
func (h *Handler) releaseSession(peer types.PeerInterface, next string) {
	prev := peer.GetSessionID()
	if prev == "" || prev == next {
		return
	}
	h.sessions.SetOffline(prev, peer.GetID())
}

// tryResume 凭证中带有效 resumeToken 时恢复原会话
func (h *Handler) tryResume(peer types.PeerInterface, credentials json.RawMessage) *session.ChatSession {
	if len(credentials) == 0 {
		return nil
	}
	var creds protocol.AuthPayload
	if err := json.Unmarshal(credentials, &creds); err != nil || creds.ResumeToken == "" {
		return nil
	}
	return h.sessions.Resume(creds.ResumeToken, peer.GetID())
}

func (h *Handler) sendAuthFailure(peer types.PeerInterface, reason string) {
	peer.SendMessage(codec.MustNewMessage(protocol.MsgAuthResponse, protocol.AuthResponsePayload{
		Success: false,
		Reason:  reason,
	}))
}

func authResponse(sess *session.ChatSession, resumed bool) protocol.AuthResponsePayload {
	return protocol.AuthResponsePayload{
		Success:     true,
		SessionID:   sess.SessionID,
		Identity:    sess.Identity,
		Permissions: sess.Permissions,
		ResumeToken: sess.ResumeToken,
		Resumed:     resumed,
	}
}

// sessionFor 返回连接绑定的会话，未认证返回 nil
func (h *Handler) sessionFor(peer types.PeerInterface) *session.ChatSession {
	if h.sessions == nil {
		return nil
	}
	sid := peer.GetSessionID()
	if sid == "" {
		return nil
	}
	return h.sessions.GetSession(sid)
}
