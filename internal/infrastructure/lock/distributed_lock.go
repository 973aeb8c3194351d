package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 加锁：SET key value NX PX ttl
//   - NX 保证互斥，PX 保证持有者崩溃后锁会过期
//   - value 是持有者标识，释放时校验
//
// 释放：Lua 脚本比较 value 后删除，避免删掉已过期后被别人拿到的锁。
//
// 这把锁只用来串行化同一个 bid 的放置/结算重试，余额的原子性由 Store.RunAtomic 保证。
// ============================================================================

var ErrLockFailed = errors.New("acquire distributed lock failed")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 一次加锁的句柄
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞加锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// Locker：按 key 加锁的入口，HoldManager 通过它拿 bid 锁
// ============================================================================

// RedisLocker 基于 Redis 的锁，多实例部署时使用
type RedisLocker struct {
	client        redis.UniversalClient
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

// NewRedisLocker wait 为最长等待时间，按 50ms 间隔换算成重试次数
func NewRedisLocker(client redis.UniversalClient, expiration, wait time.Duration) *RedisLocker {
	retryInterval := 50 * time.Millisecond
	maxRetries := int(wait / retryInterval)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisLocker{
		client:        client,
		expiration:    expiration,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key, owner string) (func(), error) {
	l := NewDistributedLock(r.client, key, owner, r.expiration)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return func() {
		// 请求 ctx 可能已经取消，释放锁单独给一个超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx); err != nil {
			log.Warnf("[Lock] 释放锁失败，等待过期: key=%s, err=%v", key, err)
		}
	}, nil
}

// BidLockKey 出价冻结锁的 key
func BidLockKey(bidID string) string {
	return fmt.Sprintf("hold:lock:bid:%s", bidID)
}
