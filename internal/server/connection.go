package server

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

// handleWebSocket 处理 WebSocket 握手
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)

	// 维护模式检查（最优先）
	if s.IsMaintenanceMode() {
		log.Printf("🔧 维护模式，拒绝新连接: %s", clientIP)
		body, _ := codec.Encode(codec.NewErrorMessage(protocol.ErrCodeServerMaintenance))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write(body)
		return
	}

	// IP 过滤检查
	if !s.ipFilter.IsAllowed(clientIP) {
		log.Printf("🚫 IP %s 被过滤器拒绝", clientIP)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// 来源验证
	if !s.originChecker.Check(r) {
		log.Printf("🚫 来源验证失败: %s (IP: %s)", r.Header.Get("Origin"), clientIP)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// 速率限制检查
	if !s.rateLimiter.Allow(clientIP) {
		log.Printf("🚫 IP %s 请求过于频繁", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 连接数限制检查，信号量在连接注销时释放
	select {
	case s.semaphore <- struct{}{}:
	default:
		log.Printf("🚫 达到最大连接数限制 (%d), IP: %s", s.maxConnections, clientIP)
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		<-s.semaphore
		log.Printf("WebSocket 升级失败: %v", err)
		return
	}

	peer := NewPeer(s, conn)
	peer.IP = clientIP

	// 先启动写协程，connected 消息才能送达
	go peer.WritePump()
	s.registry.Add(peer)
	log.Printf("✅ 连接 %s 已建立 (IP: %s)", peer.ID, clientIP)

	go peer.ReadPump()
}

// handlePeerGone 读协程退出时注销连接
func (s *Server) handlePeerGone(p *Peer) {
	s.registry.Remove(p.ID)
	p.Close()
}

// releasePeer 连接移出注册表后释放关联资源
func (s *Server) releasePeer(p LivePeer) {
	s.messageLimiter.RemoveClient(p.GetID())
	s.chatLimiter.RemoveClient(p.GetID())
	if sid := p.GetSessionID(); sid != "" {
		s.sessions.SetOffline(sid, p.GetID())
	}
	<-s.semaphore
	log.Printf("❌ 连接 %s 已断开", p.GetID())
}

// handleHealth 健康检查接口
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StatsResponse /stats 返回内容
type StatsResponse struct {
	Online         int  `json:"online"`
	Sessions       int  `json:"sessions"`
	MaxConnections int  `json:"maxConnections"`
	Maintenance    bool `json:"maintenance"`
	Goroutines     int  `json:"goroutines"`
}

// handleStats 服务器状态接口
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatsResponse{
		Online:         s.registry.Count(),
		Sessions:       s.sessions.Count(),
		MaxConnections: s.maxConnections,
		Maintenance:    s.IsMaintenanceMode(),
		Goroutines:     runtime.NumGoroutine(),
	})
}
