package server

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// 限流记录闲置多久后清理
const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleExpire      = 10 * time.Minute
)

// RateLimiter 连接速率限制器（按 IP），超限后封禁一段时间
type RateLimiter struct {
	requests map[string]*clientRate
	mu       sync.Mutex

	maxPerSecond int
	maxPerMinute int
	banDuration  time.Duration

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// clientRate 单个 IP 的计数窗口
type clientRate struct {
	secondCount int
	minuteCount int
	secondStart time.Time
	minuteStart time.Time
	bannedUntil time.Time
}

// NewRateLimiter 创建速率限制器并启动清理协程
func NewRateLimiter(maxPerSecond, maxPerMinute int, banDuration time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests:     make(map[string]*clientRate),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		banDuration:  banDuration,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Close 停止清理协程
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Allow 记录一次请求并返回是否放行
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rate, ok := rl.requests[ip]
	if !ok {
		rate = &clientRate{secondStart: now, minuteStart: now}
		rl.requests[ip] = rate
	}

	if now.Before(rate.bannedUntil) {
		return false
	}

	if now.Sub(rate.secondStart) >= time.Second {
		rate.secondCount = 0
		rate.secondStart = now
	}
	if now.Sub(rate.minuteStart) >= time.Minute {
		rate.minuteCount = 0
		rate.minuteStart = now
	}

	rate.secondCount++
	rate.minuteCount++

	if rate.secondCount > rl.maxPerSecond || rate.minuteCount > rl.maxPerMinute {
		rate.bannedUntil = now.Add(rl.banDuration)
		log.Printf("⚠️ IP %s 因请求过于频繁被暂时封禁 %v", ip, rl.banDuration)
		return false
	}
	return true
}

// IsBanned 检查 IP 是否处于封禁期
func (rl *RateLimiter) IsBanned(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rate, ok := rl.requests[ip]
	return ok && rl.now().Before(rate.bannedUntil)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, rate := range rl.requests {
		if now.Sub(rate.minuteStart) > limiterIdleExpire && now.After(rate.bannedUntil) {
			delete(rl.requests, ip)
		}
	}
}

// --- 来源验证 ---

// OriginChecker 来源验证器，"*" 放行所有来源
type OriginChecker struct {
	allowed  map[string]bool
	allowAll bool
}

// NewOriginChecker 创建来源验证器
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]bool)}
	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			return oc
		}
		oc.allowed[strings.ToLower(origin)] = true
	}
	return oc
}

// Check 检查请求来源，没有 Origin 头的本地客户端直接放行
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return oc.allowed[strings.ToLower(origin)]
}

// --- IP 白名单/黑名单 ---

// IPFilter IP 过滤器，黑名单优先于白名单；创建后只读
type IPFilter struct {
	whitelist map[string]bool
	blacklist map[string]bool
}

// NewIPFilter 用配置的白名单和黑名单创建 IP 过滤器
func NewIPFilter(whitelist, blacklist []string) *IPFilter {
	f := &IPFilter{
		whitelist: make(map[string]bool, len(whitelist)),
		blacklist: make(map[string]bool, len(blacklist)),
	}
	for _, ip := range whitelist {
		f.whitelist[ip] = true
	}
	for _, ip := range blacklist {
		f.blacklist[ip] = true
	}
	return f
}

// IsAllowed 检查 IP 是否允许连接
func (f *IPFilter) IsAllowed(ip string) bool {
	if f.blacklist[ip] {
		return false
	}
	return len(f.whitelist) == 0 || f.whitelist[ip]
}

// GetClientIP 获取客户端真实 IP，优先代理头
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// --- 消息速率限制 ---

// 超速次数达到该值后断开连接
const maxMessageWarnings = 5

// MessageRateLimiter 已连接对端的消息速率限制（所有类型）
type MessageRateLimiter struct {
	limits map[string]*messageRate
	mu     sync.Mutex

	maxPerSecond     int
	warningThreshold int

	now func() time.Time
}

type messageRate struct {
	count       int
	windowStart time.Time
	warnings    int
}

// NewMessageRateLimiter 创建消息速率限制器
func NewMessageRateLimiter(maxPerSecond int) *MessageRateLimiter {
	return &MessageRateLimiter{
		limits:           make(map[string]*messageRate),
		maxPerSecond:     maxPerSecond,
		warningThreshold: maxPerSecond / 2,
		now:              time.Now,
	}
}

// AllowMessage 记录一条消息，返回是否放行以及是否接近上限
func (ml *MessageRateLimiter) AllowMessage(peerID string) (allowed, warning bool) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	rate, ok := ml.limits[peerID]
	if !ok || now.Sub(rate.windowStart) >= time.Second {
		if !ok {
			rate = &messageRate{}
			ml.limits[peerID] = rate
		}
		rate.count = 1
		rate.windowStart = now
		return true, false
	}

	rate.count++
	if rate.count > ml.maxPerSecond {
		rate.warnings++
		return false, true
	}
	return true, rate.count > ml.warningThreshold
}

// ShouldDisconnect 超速次数超过 maxMessageWarnings 后应断开连接
func (ml *MessageRateLimiter) ShouldDisconnect(peerID string) bool {
	return ml.GetWarningCount(peerID) > maxMessageWarnings
}

// GetWarningCount 获取超速次数
func (ml *MessageRateLimiter) GetWarningCount(peerID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if rate, ok := ml.limits[peerID]; ok {
		return rate.warnings
	}
	return 0
}

// RemoveClient 移除对端记录
func (ml *MessageRateLimiter) RemoveClient(peerID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limits, peerID)
}

// --- 聊天速率限制 ---

// ChatRateLimiter 聊天消息限流，超出每秒上限进入冷却
type ChatRateLimiter struct {
	limits map[string]*chatRate
	mu     sync.Mutex

	maxPerSecond int
	maxPerMinute int
	cooldown     time.Duration

	now func() time.Time
}

type chatRate struct {
	secondCount   int
	minuteCount   int
	secondStart   time.Time
	minuteStart   time.Time
	cooldownUntil time.Time
}

// NewChatRateLimiter 创建聊天限流器
func NewChatRateLimiter(maxPerSecond, maxPerMinute int, cooldown time.Duration) *ChatRateLimiter {
	return &ChatRateLimiter{
		limits:       make(map[string]*chatRate),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		cooldown:     cooldown,
		now:          time.Now,
	}
}

// AllowChat 记录一条聊天消息，拒绝时返回提示文本
func (cl *ChatRateLimiter) AllowChat(peerID string) (allowed bool, reason string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	rate, ok := cl.limits[peerID]
	if !ok {
		rate = &chatRate{secondStart: now, minuteStart: now}
		cl.limits[peerID] = rate
	}

	if now.Before(rate.cooldownUntil) {
		remaining := rate.cooldownUntil.Sub(now).Round(time.Second)
		return false, "冷却中，请 " + remaining.String() + " 后再发言"
	}

	if now.Sub(rate.secondStart) >= time.Second {
		rate.secondCount = 0
		rate.secondStart = now
	}
	if now.Sub(rate.minuteStart) >= time.Minute {
		rate.minuteCount = 0
		rate.minuteStart = now
	}

	if rate.minuteCount >= cl.maxPerMinute {
		return false, "这一分钟说得够多了，休息一下吧"
	}
	if rate.secondCount >= cl.maxPerSecond {
		rate.cooldownUntil = now.Add(cl.cooldown)
		return false, "发言太快，进入冷却 " + cl.cooldown.String()
	}

	rate.secondCount++
	rate.minuteCount++
	return true, ""
}

// RemoveClient 移除对端记录
func (cl *ChatRateLimiter) RemoveClient(peerID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limits, peerID)
}
