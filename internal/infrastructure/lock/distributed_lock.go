package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么结算任务需要分布式锁？】
//
// 结算是多页批处理：拉一页 -> 分桶结算 -> 再拉下一页。
// 如果两个进程（例如部署重启时新旧实例并存）同时跑结算：
//   进程1: 拉到流水 P -> 入账 -> 关闭
//   进程2: 也拉到流水 P -> 再次入账  重复打款！
//
// 锁必须覆盖整个多页运行，而不是单页，否则换页间隙就是双跑窗口。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（进程崩溃后锁自动释放，不会永久卡死后续调度）
//   - value: 持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"原子性
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// Locker 结算引擎依赖的加锁能力
// 任何带 TTL 的协调存储都能实现；测试里用内存实现替换
type Locker interface {
	// TryAcquire 非阻塞抢锁，抢不到返回 false（不是错误）
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放自己持有的锁
	Release(ctx context.Context, key string) error
}

// RedisLocker 基于 Redis SetNX 的 Locker 实现
type RedisLocker struct {
	client *redis.Client
	holder string // 本进程的持有者标识
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		holder: uuid.NewString(),
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.holder, ttl).Result()
}

// Release 释放锁
//
// 【关键点】先检查 value 再删除，必须用 Lua 保证原子：
// 自己的锁已过期、被别人抢走时，不能把别人的锁删掉
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{key}, l.holder).Result()
	return err
}

// ============================================================================
// 便捷结构：请求级互斥锁（提现等单用户串行场景）
// ============================================================================

// DistributedLock 单 key 互斥锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewWithdrawLock 创建提现锁（按用户维度）
//
// 同一用户的提现请求串行化，不同用户互不影响
func NewWithdrawLock(client *redis.Client, userID string, requestID string) *DistributedLock {
	key := fmt.Sprintf("withdraw:lock:user:%s", userID)
	return NewDistributedLock(client, key, requestID, 30*time.Second)
}
