// internal/lock/lock.go
package lock

import (
	"context"

	"flashmart/internal/errs"
)

// ErrTimeout 表示在等待窗口内没有抢到锁，调用方应映射为“稍后重试”。
var ErrTimeout = errs.New(errs.KindLockTimeout, errs.CodeLockTimeout, "lock wait timed out")

// Service 是按资源键互斥的分布式锁服务。
//
// 语义约定：
//   - 同一个 key 在任意时刻至多有一个持有者（跨进程）；
//   - 持有者崩溃后锁会在租约（lease）到期时自动释放，
//     因此临界区内的代码不能假设超出租约期之后仍然独占；
//   - Release 只对持有者本身生效，过期后由他人持有的锁不会被误删。
type Service interface {
	// Acquire 阻塞等待直至拿到锁或超出等待窗口（返回 ErrTimeout）。
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Lock 是一次成功获取的锁。
type Lock interface {
	// Release 释放锁。重复调用是安全的。
	Release(ctx context.Context) error
	Key() string
}

// WithLock 在锁的保护下执行 fn，是各 ledger 临界区的统一入口。
func WithLock(ctx context.Context, svc Service, key string, fn func(ctx context.Context) error) error {
	l, err := svc.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn(ctx)
}
