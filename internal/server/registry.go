package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/palemoky/realtime-chat/internal/protocol"
	"github.com/palemoky/realtime-chat/internal/protocol/codec"
	"github.com/palemoky/realtime-chat/internal/types"
)

// LivePeer 可被心跳巡检的对端
type LivePeer interface {
	types.PeerInterface
	Ping() error
	Terminate()
}

type entry struct {
	peer  LivePeer
	alive atomic.Bool
}

// Registry 在线连接注册表，负责广播与心跳巡检
type Registry struct {
	peers map[string]*entry
	mu    sync.RWMutex

	// onRemove 连接移出注册表后调用
	onRemove func(LivePeer)
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*entry)}
}

var _ types.RegistryInterface = (*Registry)(nil)

// Add 注册连接并发送 connected 系统消息
func (r *Registry) Add(p LivePeer) {
	e := &entry{peer: p}
	e.alive.Store(true)

	r.mu.Lock()
	r.peers[p.GetID()] = e
	r.mu.Unlock()

	p.SendMessage(codec.MustNewMessage(protocol.MsgSystem, protocol.SystemPayload{
		Event:   protocol.SystemEventConnected,
		PeerID:  p.GetID(),
		Message: "connected",
	}))
}

// Remove 注销连接，返回连接是否存在
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()

	if ok && r.onRemove != nil {
		r.onRemove(e.peer)
	}
	return ok
}

// MarkAlive 收到 pong 后标记存活
func (r *Registry) MarkAlive(id string) {
	r.mu.RLock()
	e, ok := r.peers[id]
	r.mu.RUnlock()
	if ok {
		e.alive.Store(true)
	}
}

// Get 按 ID 获取连接
func (r *Registry) Get(id string) LivePeer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[id]; ok {
		return e.peer
	}
	return nil
}

// Count 在线连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// snapshot 复制当前条目，遍历期间不持锁
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.peers))
	for _, e := range r.peers {
		entries = append(entries, e)
	}
	return entries
}

// Sweep 巡检一轮：上一轮未回 pong 的连接被断开并移除，其余清除存活标记后发送 ping
func (r *Registry) Sweep() (terminated int) {
	for _, e := range r.snapshot() {
		if !e.alive.Swap(false) {
			log.Printf("💔 连接 %s 心跳超时，断开", e.peer.GetID())
			e.peer.Terminate()
			r.Remove(e.peer.GetID())
			terminated++
			continue
		}
		if err := e.peer.Ping(); err != nil {
			log.Printf("发送 ping 失败 (连接 %s): %v", e.peer.GetID(), err)
		}
	}
	return terminated
}

// Run 按固定间隔巡检，直到 ctx 取消
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Broadcast 广播给所有连接
func (r *Registry) Broadcast(msg *protocol.Envelope) {
	for _, e := range r.snapshot() {
		e.peer.SendMessage(msg)
	}
}

// BroadcastExcept 广播给除 peerID 外的所有连接
func (r *Registry) BroadcastExcept(msg *protocol.Envelope, peerID string) {
	for _, e := range r.snapshot() {
		if e.peer.GetID() != peerID {
			e.peer.SendMessage(msg)
		}
	}
}

// CloseAll 关闭所有连接
func (r *Registry) CloseAll() {
	for _, e := range r.snapshot() {
		e.peer.Close()
	}
}
