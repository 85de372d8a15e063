package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLockManager 单进程锁管理器，未配置 redis 时使用
type MemoryLockManager struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token    string
	expireAt time.Time
}

func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{
		held:  make(map[string]memoryEntry),
		clock: time.Now,
	}
}

func (m *MemoryLockManager) NewLock(key string, opts *LockOptions) DistributedLock {
	return &MemoryLock{
		manager: m,
		key:     key,
		token:   uuid.NewString(),
		opts:    opts.normalize(),
	}
}

func (m *MemoryLockManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = make(map[string]memoryEntry)
	return nil
}

func (m *MemoryLockManager) acquire(key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if e, ok := m.held[key]; ok && e.token != token && now.Before(e.expireAt) {
		return false
	}
	m.held[key] = memoryEntry{token: token, expireAt: now.Add(ttl)}
	return true
}

func (m *MemoryLockManager) release(key, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.held[key]
	if !ok || e.token != token {
		return false
	}
	delete(m.held, key)
	return true
}

func (m *MemoryLockManager) holds(key, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.held[key]
	return ok && e.token == token && m.clock().Before(e.expireAt)
}

// MemoryLock 进程内锁，AutoRenew 时持有期间不过期
type MemoryLock struct {
	manager *MemoryLockManager
	key     string
	token   string
	opts    *LockOptions
}

func (l *MemoryLock) GetLockKey() string {
	return l.key
}

func (l *MemoryLock) IsLocked() bool {
	return l.manager.holds(l.key, l.token)
}

func (l *MemoryLock) Lock(ctx context.Context) error {
	return acquireWithRetry(ctx, l.key, l.opts, l.TryLock)
}

func (l *MemoryLock) TryLock(ctx context.Context) (bool, error) {
	ttl := l.opts.TTL
	if l.opts.AutoRenew {
		ttl = 100 * 365 * 24 * time.Hour
	}
	return l.manager.acquire(l.key, l.token, ttl), nil
}

func (l *MemoryLock) Unlock(ctx context.Context) error {
	if !l.manager.release(l.key, l.token) {
		return NewLockError(ErrCodeLockNotHeld, "锁未被持有", nil)
	}
	return nil
}
