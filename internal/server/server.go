package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/palemoky/realtime-chat/internal/config"
	"github.com/palemoky/realtime-chat/internal/server/handler"
	"github.com/palemoky/realtime-chat/internal/server/session"
	"github.com/palemoky/realtime-chat/internal/server/storage"
	"github.com/palemoky/realtime-chat/internal/types"
)

// Server WebSocket 聊天服务器
type Server struct {
	config   *config.Config
	redis    *redis.Client
	history  types.HistoryStore
	registry *Registry
	sessions *session.Manager
	handler  *handler.Handler
	router   chi.Router
	upgrader websocket.Upgrader

	// 安全组件
	rateLimiter    *RateLimiter
	originChecker  *OriginChecker
	messageLimiter *MessageRateLimiter
	chatLimiter    *ChatRateLimiter
	ipFilter       *IPFilter

	// 连接控制
	maxConnections int
	semaphore      chan struct{} // 信号量控制并发连接数

	// 维护模式
	maintenanceMode bool
	maintenanceMu   sync.RWMutex

	httpServer *http.Server
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewServer 按配置打开历史存储并创建服务器
func NewServer(cfg *config.Config) (*Server, error) {
	var rdb *redis.Client
	var history types.HistoryStore

	switch cfg.History.Backend {
	case config.HistoryBackendRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis 连接失败: %w", err)
		}
		history = storage.NewRedisStore(rdb, cfg.History.Limit, cfg.History.TTLDuration())

	case config.HistoryBackendSQLite:
		store, err := storage.NewSQLiteStore(cfg.History.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite 打开失败: %w", err)
		}
		history = store

	case config.HistoryBackendMemory:
		history = storage.NewMemoryStore(cfg.History.Limit)

	default:
		return nil, fmt.Errorf("未知的历史存储后端: %q", cfg.History.Backend)
	}

	s := NewServerWithStore(cfg, history)
	s.redis = rdb
	return s, nil
}

// NewServerWithStore 使用给定的历史存储创建服务器
func NewServerWithStore(cfg *config.Config, history types.HistoryStore) *Server {
	s := &Server{
		config:   cfg,
		history:  history,
		registry: NewRegistry(),
		sessions: session.NewManager(),
		// 初始化安全组件
		rateLimiter: NewRateLimiter(
			cfg.Security.RateLimit.MaxPerSecond,
			cfg.Security.RateLimit.MaxPerMinute,
			cfg.Security.RateLimit.BanDurationTime(),
		),
		originChecker:  NewOriginChecker(cfg.Security.AllowedOrigins),
		messageLimiter: NewMessageRateLimiter(cfg.Security.MessageLimit.MaxPerSecond),
		chatLimiter: NewChatRateLimiter(
			cfg.Security.ChatLimit.MaxPerSecond,
			cfg.Security.ChatLimit.MaxPerMinute,
			cfg.Security.ChatLimit.CooldownDuration(),
		),
		ipFilter: NewIPFilter(cfg.Security.IPWhitelist, cfg.Security.IPBlacklist),
		// 初始化连接控制
		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
	}
	s.registry.onRemove = s.releasePeer

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: s.originChecker.Check,
	}

	// 初始化消息处理器
	s.handler = handler.NewHandler(handler.HandlerDeps{
		Registry:      s.registry,
		History:       history,
		Authenticator: session.NewStubAuthenticator(cfg.Auth.AdminTokens),
		Sessions:      s.sessions,
		ChatLimiter:   s.chatLimiter,
		HistoryLimit:  cfg.History.Limit,
	})

	s.router = s.routes()

	log.Printf("🔒 安全配置: 连接限制=%d/s, 消息限制=%d/s, 聊天限制=%d/s, 最大连接数=%d",
		cfg.Security.RateLimit.MaxPerSecond, cfg.Security.MessageLimit.MaxPerSecond, cfg.Security.ChatLimit.MaxPerSecond, cfg.Server.MaxConnections)

	return s
}

// routes 注册 HTTP 路由
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(s.config.Server.Path, s.handleWebSocket)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry 返回连接注册表
func (s *Server) Registry() *Registry {
	return s.registry
}

// StartHeartbeat 启动心跳巡检与状态监控，Shutdown 时停止
func (s *Server) StartHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.registry.Run(ctx, s.config.Heartbeat.IntervalDuration())
	go s.monitorStats(ctx)
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.StartHeartbeat()

	log.Printf("🚀 服务器启动在 ws://%s%s (CPU核心数: %d)", addr, s.config.Server.Path, runtime.NumCPU())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, // 防止 Slowloris 攻击
		IdleTimeout:       60 * time.Second,
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
