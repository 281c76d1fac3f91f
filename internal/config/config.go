package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	defaultHost           = "0.0.0.0"
	defaultPort           = 1780
	defaultPath           = "/ws"
	defaultMaxConnections = 10000
	defaultRedisAddr      = "localhost:6379"

	defaultHeartbeatInterval = 30 // 秒

	defaultHistoryBackend = HistoryBackendMemory
	defaultHistoryLimit   = 100
	defaultHistoryTTL     = 24 // 小时
	defaultSQLitePath     = "data/chat.db"

	defaultMaxReconnectAttempts = 5
	defaultBackoffBaseMS        = 1000
	defaultBackoffMaxMS         = 30000
	defaultQueueLimit           = 1000
	defaultHandshakeTimeout     = 10 // 秒

	defaultRateMaxPerSecond    = 10
	defaultRateMaxPerMinute    = 60
	defaultRateBanDuration     = 60 // 秒
	defaultMessageMaxPerSecond = 20
	defaultChatMaxPerSecond    = 5
	defaultChatMaxPerMinute    = 60
	defaultChatCooldown        = 5 // 秒
)

// 历史存储后端
const (
	HistoryBackendMemory = "memory"
	HistoryBackendRedis  = "redis"
	HistoryBackendSQLite = "sqlite"
)

// Config 服务端与客户端共用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	History   HistoryConfig   `yaml:"history"`
	Client    ClientConfig    `yaml:"client"`
	Security  SecurityConfig  `yaml:"security"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxConnections int    `yaml:"max_connections"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HeartbeatConfig 心跳巡检配置
type HeartbeatConfig struct {
	Interval int `yaml:"interval"` // 巡检间隔（秒）
}

// IntervalDuration 返回巡检间隔
func (c *HeartbeatConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// HistoryConfig 历史消息存储配置
type HistoryConfig struct {
	Backend    string `yaml:"backend"`     // memory/redis/sqlite
	Limit      int    `yaml:"limit"`       // 每个会话保留/回放的最大条数
	SQLitePath string `yaml:"sqlite_path"` // sqlite 文件路径
	TTL        int    `yaml:"ttl"`         // redis 过期时间（小时）
}

// TTLDuration 返回历史过期时间
func (c *HistoryConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Hour
}

// ClientConfig 客户端连接管理配置
type ClientConfig struct {
	Endpoint             string `yaml:"endpoint"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	BackoffBaseMS        int    `yaml:"backoff_base_ms"`
	BackoffMaxMS         int    `yaml:"backoff_max_ms"`
	QueueLimit           int    `yaml:"queue_limit"`
	HandshakeTimeout     int    `yaml:"handshake_timeout"` // 秒
}

// BackoffBase 返回首次重连延迟
func (c *ClientConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax 返回重连延迟上限
func (c *ClientConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// HandshakeTimeoutDuration 返回握手超时
func (c *ClientConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(c.HandshakeTimeout) * time.Second
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AllowedOrigins []string           `yaml:"allowed_origins"`
	IPWhitelist    []string           `yaml:"ip_whitelist"` // 非空时只允许名单内 IP
	IPBlacklist    []string           `yaml:"ip_blacklist"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	MessageLimit   MessageLimitConfig `yaml:"message_limit"`
	ChatLimit      ChatLimitConfig    `yaml:"chat_limit"`
}

// RateLimitConfig 连接速率限制（按 IP）
type RateLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	BanDuration  int `yaml:"ban_duration"` // 秒
}

// BanDurationTime 返回封禁时长
func (c *RateLimitConfig) BanDurationTime() time.Duration {
	return time.Duration(c.BanDuration) * time.Second
}

// MessageLimitConfig 消息速率限制（按连接）
type MessageLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
}

// ChatLimitConfig 聊天速率限制
type ChatLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	Cooldown     int `yaml:"cooldown"` // 秒
}

// CooldownDuration 返回冷却时长
func (c *ChatLimitConfig) CooldownDuration() time.Duration {
	return time.Duration(c.Cooldown) * time.Second
}

// AuthConfig 认证桩配置
type AuthConfig struct {
	AdminTokens []string `yaml:"admin_tokens"`
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default 返回默认配置（环境变量仍然生效）
func Default() *Config {
	var cfg Config
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults 设置默认值
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = defaultPath
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = defaultMaxConnections
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaultRedisAddr
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = defaultHeartbeatInterval
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = defaultHistoryBackend
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = defaultHistoryLimit
	}
	if cfg.History.TTL == 0 {
		cfg.History.TTL = defaultHistoryTTL
	}
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = defaultSQLitePath
	}

	if cfg.Client.MaxReconnectAttempts == 0 {
		cfg.Client.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Client.BackoffBaseMS == 0 {
		cfg.Client.BackoffBaseMS = defaultBackoffBaseMS
	}
	if cfg.Client.BackoffMaxMS == 0 {
		cfg.Client.BackoffMaxMS = defaultBackoffMaxMS
	}
	if cfg.Client.QueueLimit == 0 {
		cfg.Client.QueueLimit = defaultQueueLimit
	}
	if cfg.Client.HandshakeTimeout == 0 {
		cfg.Client.HandshakeTimeout = defaultHandshakeTimeout
	}

	if len(cfg.Security.AllowedOrigins) == 0 {
		cfg.Security.AllowedOrigins = []string{"*"}
	}
	if cfg.Security.RateLimit.MaxPerSecond == 0 {
		cfg.Security.RateLimit.MaxPerSecond = defaultRateMaxPerSecond
	}
	if cfg.Security.RateLimit.MaxPerMinute == 0 {
		cfg.Security.RateLimit.MaxPerMinute = defaultRateMaxPerMinute
	}
	if cfg.Security.RateLimit.BanDuration == 0 {
		cfg.Security.RateLimit.BanDuration = defaultRateBanDuration
	}
	if cfg.Security.MessageLimit.MaxPerSecond == 0 {
		cfg.Security.MessageLimit.MaxPerSecond = defaultMessageMaxPerSecond
	}
	if cfg.Security.ChatLimit.MaxPerSecond == 0 {
		cfg.Security.ChatLimit.MaxPerSecond = defaultChatMaxPerSecond
	}
	if cfg.Security.ChatLimit.MaxPerMinute == 0 {
		cfg.Security.ChatLimit.MaxPerMinute = defaultChatMaxPerMinute
	}
	if cfg.Security.ChatLimit.Cooldown == 0 {
		cfg.Security.ChatLimit.Cooldown = defaultChatCooldown
	}
}

// applyEnv 环境变量覆盖配置文件
func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := envInt("SERVER_PORT"); v > 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("CLIENT_ENDPOINT"); v != "" {
		cfg.Client.Endpoint = v
	}
	if v := envInt("HEARTBEAT_INTERVAL"); v > 0 {
		cfg.Heartbeat.Interval = v
	}
	if v := os.Getenv("SECURITY_ALLOWED_ORIGINS"); v != "" {
		cfg.Security.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SECURITY_IP_WHITELIST"); v != "" {
		cfg.Security.IPWhitelist = splitList(v)
	}
	if v := os.Getenv("SECURITY_IP_BLACKLIST"); v != "" {
		cfg.Security.IPBlacklist = splitList(v)
	}
	if v := os.Getenv("AUTH_ADMIN_TOKENS"); v != "" {
		cfg.Auth.AdminTokens = splitList(v)
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
