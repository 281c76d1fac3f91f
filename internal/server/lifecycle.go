package server

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
)

const (
	// 状态监控间隔
	monitorInterval = 30 * time.Second
	// 优雅关闭时检查连接数的间隔
	drainCheckInterval = 500 * time.Millisecond
)

// monitorStats 定期打印服务器状态
func (s *Server) monitorStats(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		log.Printf("📊 [监控] 在线: %d | 会话: %d | Goroutines: %d | 活跃连接: %d/%d | 内存: %.2f MB",
			s.registry.Count(),
			s.sessions.Count(),
			runtime.NumGoroutine(),
			len(s.semaphore),
			s.maxConnections,
			float64(m.Alloc)/1024/1024)

		if s.redis != nil {
			ps := s.redis.PoolStats()
			log.Printf("📊 [监控] Redis 连接池: 总数 %d | 空闲 %d | 超时 %d", ps.TotalConns, ps.IdleConns, ps.Timeouts)
		}
	}
}

// EnterMaintenanceMode 进入维护模式：拒绝新连接并通知在线用户
func (s *Server) EnterMaintenanceMode() {
	s.maintenanceMu.Lock()
	s.maintenanceMode = true
	s.maintenanceMu.Unlock()

	s.registry.Broadcast(codec.MustNewMessage(protocol.MsgSystem, protocol.SystemPayload{
		Event:   protocol.SystemEventMaintenance,
		Message: "👷🏻‍♂️ 服务器进入维护模式，暂停接受新连接",
	}))

	log.Println("🔧 进入维护模式：停止接受新连接")
}

// IsMaintenanceMode 检查是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	s.maintenanceMu.RLock()
	defer s.maintenanceMu.RUnlock()
	return s.maintenanceMode
}

// GracefulShutdown 进入维护模式，等待连接自行断开或超时后关闭
func (s *Server) GracefulShutdown(timeout time.Duration) {
	s.EnterMaintenanceMode()

	s.registry.Broadcast(codec.MustNewMessage(protocol.MsgSystem, protocol.SystemPayload{
		Event:   protocol.SystemEventMaintenance,
		Message: fmt.Sprintf("🚧 服务器将在 %s 内停机维护！", timeout),
	}))

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(drainCheckInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		online := s.registry.Count()
		if online == 0 {
			log.Println("✅ 所有连接已断开")
			break
		}
		log.Printf("⏳ 等待 %d 个连接断开...", online)
		<-ticker.C
	}

	if online := s.registry.Count(); online > 0 {
		log.Printf("⚠️ 超时，仍有 %d 个连接，强制关闭", online)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Shutdown(ctx)
}

// Shutdown 关闭所有连接并释放资源，可重复调用
func (s *Server) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Printf("HTTP 服务器关闭失败: %v", err)
			}
		}

		s.registry.CloseAll()
		s.sessions.Close()
		s.rateLimiter.Close()

		if s.history != nil {
			if err := s.history.Close(); err != nil {
				log.Printf("历史存储关闭失败: %v", err)
			}
		}

		log.Println("服务器已关闭")
	})
}
