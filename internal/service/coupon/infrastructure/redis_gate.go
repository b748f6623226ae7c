// internal/service/coupon/infrastructure/redis_gate.go
package infrastructure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"flashmart/internal/pkg/logger"
	"flashmart/internal/pkg/redis"
	"flashmart/internal/service/coupon/domain"
)

const (
	couponIssuedKey = "coupon:issued:%d" // set of user ids
	couponStockKey  = "coupon:stock:%d"  // 剩余名额计数器
)

// issueScript 在一次原子执行里完成去重、倒扣与回补：
//  1. SISMEMBER 命中即返回 duplicate；
//  2. 无条件 DECR，扣成负数说明名额已空，INCR 回补后返回 exhausted；
//  3. 扣减成功后 SADD 记录用户。
// 第 2 步短暂出现的负值对外不可见，回补保证计数不漂移。
const issueScript = `
local issued_key = KEYS[1]
local stock_key = KEYS[2]
local user_id = ARGV[1]

if redis.call("SISMEMBER", issued_key, user_id) == 1 then
    return "duplicate"
end

local remaining = redis.call("DECR", stock_key)
if remaining < 0 then
    redis.call("INCR", stock_key)
    return "exhausted"
end

redis.call("SADD", issued_key, user_id)
return "issued"
`

// rollbackScript 撤销一次裁决：只有确实发过才回补名额。
const rollbackScript = `
local issued_key = KEYS[1]
local stock_key = KEYS[2]
local user_id = ARGV[1]

if redis.call("SREM", issued_key, user_id) == 1 then
    redis.call("INCR", stock_key)
    return 1
end
return 0
`

// RedisIssuanceGate 基于 Redis 的发放闸门实现。
// 计数器按需从持久层播种，singleflight 保证同券只播一次。
type RedisIssuanceGate struct {
	client *redis.Client
	seed   singleflight.Group
}

func NewRedisIssuanceGate(client *redis.Client) (*RedisIssuanceGate, error) {
	if err := client.LoadScriptFromContent("coupon_issue", issueScript); err != nil {
		return nil, errors.Wrap(err, "load coupon issue script")
	}
	if err := client.LoadScriptFromContent("coupon_rollback", rollbackScript); err != nil {
		return nil, errors.Wrap(err, "load coupon rollback script")
	}
	return &RedisIssuanceGate{client: client}, nil
}

func (g *RedisIssuanceGate) TryIssue(ctx context.Context, couponID, userID int64) (domain.GateResult, error) {
	keys := []string{
		fmt.Sprintf(couponIssuedKey, couponID),
		fmt.Sprintf(couponStockKey, couponID),
	}
	res, err := g.client.RunScript(ctx, "coupon_issue", keys, userID)
	if err != nil {
		return 0, errors.Wrapf(err, "coupon issue script, coupon %d", couponID)
	}

	switch res {
	case "issued":
		return domain.GateIssued, nil
	case "exhausted":
		return domain.GateExhausted, nil
	case "duplicate":
		return domain.GateDuplicate, nil
	default:
		return 0, errors.Errorf("unexpected issue script result %v", res)
	}
}

func (g *RedisIssuanceGate) Rollback(ctx context.Context, couponID, userID int64) error {
	keys := []string{
		fmt.Sprintf(couponIssuedKey, couponID),
		fmt.Sprintf(couponStockKey, couponID),
	}
	restored, err := g.client.RunScript(ctx, "coupon_rollback", keys, userID)
	if err != nil {
		return errors.Wrapf(err, "coupon rollback script, coupon %d", couponID)
	}
	logger.Ctx(ctx).Info().
		Int64("couponId", couponID).
		Int64("userId", userID).
		Interface("restored", restored).
		Msg("coupon gate decision rolled back")
	return nil
}

func (g *RedisIssuanceGate) IsIssued(ctx context.Context, couponID, userID int64) (bool, error) {
	key := fmt.Sprintf(couponIssuedKey, couponID)
	ok, err := g.client.GetClient().SIsMember(ctx, key, userID).Result()
	if err != nil {
		return false, errors.Wrapf(err, "sismember %s", key)
	}
	return ok, nil
}

func (g *RedisIssuanceGate) SeedStock(ctx context.Context, couponID int64, remaining int) error {
	key := fmt.Sprintf(couponStockKey, couponID)
	_, err, _ := g.seed.Do(key, func() (interface{}, error) {
		// SETNX：计数器已存在说明别的实例已播种，保持现值
		set, err := g.client.GetClient().SetNX(ctx, key, remaining, 0).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "seed %s", key)
		}
		if set {
			logger.Ctx(ctx).Info().
				Int64("couponId", couponID).
				Int("remaining", remaining).
				Msg("coupon stock counter seeded")
		}
		return set, nil
	})
	return err
}

var _ domain.IssuanceGate = (*RedisIssuanceGate)(nil)
