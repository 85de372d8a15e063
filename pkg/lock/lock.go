package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，按 RetryInterval 重试直到成功、超过 MaxRetries 或 ctx 结束
	Lock(ctx context.Context) error

	// TryLock 尝试获取锁，不阻塞；已持有时续期并返回 true
	TryLock(ctx context.Context) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context) error

	// IsLocked 检查锁是否被当前实例持有
	IsLocked() bool

	// GetLockKey 获取锁的键
	GetLockKey() string
}

// LockOptions 锁配置选项
type LockOptions struct {
	// TTL 锁的生存时间
	TTL time.Duration

	// AutoRenew 持有期间是否自动续期
	AutoRenew bool

	// RenewInterval 自动续期间隔，默认 TTL/3
	RenewInterval time.Duration

	// RetryInterval 重试间隔
	RetryInterval time.Duration

	// MaxRetries 最大重试次数，0表示无限重试
	MaxRetries int
}

// DefaultLockOptions 默认锁配置
func DefaultLockOptions() *LockOptions {
	return &LockOptions{
		TTL:           30 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    0,
	}
}

func (o *LockOptions) normalize() *LockOptions {
	out := DefaultLockOptions()
	if o == nil {
		return out
	}
	*out = *o
	if out.TTL <= 0 {
		out.TTL = 30 * time.Second
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 100 * time.Millisecond
	}
	if out.AutoRenew && out.RenewInterval <= 0 {
		out.RenewInterval = out.TTL / 3
	}
	return out
}

// LockManager 锁管理器接口
type LockManager interface {
	// NewLock 创建新的分布式锁
	NewLock(key string, opts *LockOptions) DistributedLock

	// Close 关闭锁管理器
	Close() error
}

// LockError 锁相关错误
type LockError struct {
	Code    string
	Message string
	Cause   error
}

func (e *LockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("锁错误 [%s]: %s, 原因: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("锁错误 [%s]: %s", e.Code, e.Message)
}

// Unwrap 支持Go 1.13+的错误包装
func (e *LockError) Unwrap() error {
	return e.Cause
}

// 预定义错误代码
const (
	ErrCodeLockTimeout     = "LOCK_TIMEOUT"
	ErrCodeLockNotHeld     = "LOCK_NOT_HELD"
	ErrCodeLockAlreadyHeld = "LOCK_ALREADY_HELD"
	ErrCodeInvalidKey      = "INVALID_KEY"
)

// NewLockError 创建锁错误
func NewLockError(code, message string, cause error) *LockError {
	return &LockError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsLockCode 判断是否为指定错误代码
func IsLockCode(err error, code string) bool {
	var le *LockError
	return errors.As(err, &le) && le.Code == code
}

// acquireWithRetry Lock 的通用重试循环
func acquireWithRetry(ctx context.Context, key string, opts *LockOptions, try func(context.Context) (bool, error)) error {
	attempts := 0
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		attempts++
		if opts.MaxRetries > 0 && attempts > opts.MaxRetries {
			return NewLockError(ErrCodeLockTimeout, fmt.Sprintf("获取锁 %s 超过最大重试次数", key), nil)
		}

		select {
		case <-ctx.Done():
			return NewLockError(ErrCodeLockTimeout, fmt.Sprintf("获取锁 %s 超时", key), ctx.Err())
		case <-time.After(opts.RetryInterval):
		}
	}
}
