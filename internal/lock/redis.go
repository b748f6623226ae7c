// internal/lock/redis.go
package lock

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"flashmart/internal/pkg/metrics"
	"flashmart/internal/pkg/redis"
)

const unlockScriptName = "keyed_lock_unlock"

// 只有持有者（token 匹配）才能删除锁，防止租约过期后误删他人的锁。
var unlockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// RedisLockService 基于 SET NX PX 实现的键级互斥锁。
// 租约到期自动失效，避免持有者崩溃导致的死锁。
type RedisLockService struct {
	client      *redis.Client
	waitTimeout time.Duration
	leaseTTL    time.Duration
}

func NewRedisLockService(client *redis.Client, waitTimeout, leaseTTL time.Duration) (*RedisLockService, error) {
	if err := client.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, errors.Wrap(err, "load unlock script")
	}
	return &RedisLockService{client: client, waitTimeout: waitTimeout, leaseTTL: leaseTTL}, nil
}

func (s *RedisLockService) Acquire(ctx context.Context, key string) (Lock, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(s.waitTimeout)
	start := time.Now()

	for {
		ok, err := s.client.GetClient().SetNX(ctx, key, token, s.leaseTTL).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "setnx lock %s", key)
		}
		if ok {
			metrics.LockWaitSeconds.WithLabelValues("redis").Observe(time.Since(start).Seconds())
			return &redisLock{svc: s, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		// 短暂退避并加抖动，避免大量竞争者同步重试
		sleep := 20*time.Millisecond + time.Duration(rand.Intn(30))*time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

type redisLock struct {
	svc      *RedisLockService
	key      string
	token    string
	released bool
}

func (l *redisLock) Key() string { return l.key }

func (l *redisLock) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	_, err := l.svc.client.RunScript(ctx, unlockScriptName, []string{l.key}, l.token)
	return errors.Wrapf(err, "unlock %s", l.key)
}
