package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/logger"

	"github.com/bsm/redislock"
)

// RedisLockManager 基于 redislock 的锁管理器
type RedisLockManager struct {
	client *redislock.Client
	prefix string
	log    *logger.Log
}

func NewRedisLockManager(client *redislock.Client, prefix string, log *logger.Log) *RedisLockManager {
	return &RedisLockManager{
		client: client,
		prefix: prefix,
		log:    log.WithEntryName("RedisLockManager"),
	}
}

func (m *RedisLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &RedisLock{
		manager: m,
		key:     m.prefix + key,
		opts:    opts.normalize(),
	}
}

func (m *RedisLockManager) Close() error {
	return nil
}

// RedisLock 单个 redis 锁
type RedisLock struct {
	manager *RedisLockManager
	key     string
	opts    *LockOptions

	mu        sync.Mutex
	lock      *redislock.Lock
	stopRenew chan struct{}
}

func (l *RedisLock) GetLockKey() string {
	return l.key
}

func (l *RedisLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lock != nil
}

func (l *RedisLock) Lock(ctx context.Context) error {
	return acquireWithRetry(ctx, l.key, l.opts, l.TryLock)
}

func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock != nil {
		err := l.lock.Refresh(ctx, l.opts.TTL, nil)
		if err == nil {
			return true, nil
		}
		// 续期失败视为锁已丢失，重新竞争
		l.manager.log.WithErr(err).WithField("key", l.key).Warn("锁续期失败")
		l.releaseLocked()
	}

	lk, err := l.manager.client.Obtain(ctx, l.key, l.opts.TTL, &redislock.Options{
		RetryStrategy: redislock.NoRetry(),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, NewLockError(ErrCodeLockTimeout, "获取锁失败", err)
	}

	l.lock = lk
	if l.opts.AutoRenew {
		l.stopRenew = make(chan struct{})
		go l.renewLoop(lk, l.stopRenew)
	}
	return true, nil
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	lk := l.lock
	l.releaseLocked()

	if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return NewLockError(ErrCodeLockNotHeld, "释放锁失败", err)
	}
	return nil
}

func (l *RedisLock) releaseLocked() {
	if l.stopRenew != nil {
		close(l.stopRenew)
		l.stopRenew = nil
	}
	l.lock = nil
}

func (l *RedisLock) renewLoop(lk *redislock.Lock, stop chan struct{}) {
	ticker := time.NewTicker(l.opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.opts.RenewInterval)
			err := lk.Refresh(ctx, l.opts.TTL, nil)
			cancel()
			if err != nil {
				l.manager.log.WithErr(err).WithField("key", l.key).Warn("自动续期失败，锁已丢失")
				l.mu.Lock()
				if l.lock == lk {
					l.releaseLocked()
				}
				l.mu.Unlock()
				return
			}
		}
	}
}
