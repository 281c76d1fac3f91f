package client

import "sync"

// listeners 按注册顺序保存的回调列表
type listeners[T any] struct {
	mu    sync.Mutex
	next  uint64
	items []listener[T]
}

type listener[T any] struct {
	id uint64
	fn T
}

// add 注册回调，返回的取消函数可重复调用
func (l *listeners[T]) add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	id := l.next
	l.items = append(l.items, listener[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, item := range l.items {
			if item.id == id {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
				return
			}
		}
	}
}

// snapshot 返回当前回调副本，调用期间不持锁
func (l *listeners[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.items))
	for i, item := range l.items {
		out[i] = item.fn
	}
	return out
}
