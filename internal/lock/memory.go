// internal/lock/memory.go
package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLockService 是进程内实现，用于单机部署和测试。
// 语义与分布式实现一致：按键互斥、等待窗口、可重复 Release。
type MemoryLockService struct {
	mu          sync.Mutex
	chans       map[string]chan struct{}
	waitTimeout time.Duration
}

func NewMemoryLockService(waitTimeout time.Duration) *MemoryLockService {
	return &MemoryLockService{chans: make(map[string]chan struct{}), waitTimeout: waitTimeout}
}

func (s *MemoryLockService) slot(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chans[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.chans[key] = ch
	}
	return ch
}

func (s *MemoryLockService) Acquire(ctx context.Context, key string) (Lock, error) {
	ch := s.slot(key)
	select {
	case ch <- struct{}{}:
		return &memoryLock{ch: ch, key: key}, nil
	case <-time.After(s.waitTimeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	ch       chan struct{}
	key      string
	released bool
	mu       sync.Mutex
}

func (l *memoryLock) Key() string { return l.key }

func (l *memoryLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	<-l.ch
	return nil
}
