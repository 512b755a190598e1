package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	xerrors "SpendGuard/internal/errors"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore 以内存方式保存账本，在 Redis 不可用时作为降级后端。
// 所有操作都在同一把互斥锁内完成，过期在访问时惰性清理。
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]memoryEntry
	now    func() time.Time
	closed bool
}

// MemoryOption 定义内存后端的可选配置。
type MemoryOption func(*MemoryStore)

// WithClock 替换内存后端使用的时钟，主要用于测试过期逻辑。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{data: make(map[string]memoryEntry), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// lookup 必须在持有 m.mu 时调用。
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.now()) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryStore) checkOpen() error {
	if m.closed {
		return xerrors.New(xerrors.CodeStorageFailure, "memory store is closed")
	}
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return "", false, err
	}
	entry, ok := m.lookup(key)
	return entry.value, ok, nil
}

// Set 实现 Store 接口。
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.data[key] = memoryEntry{value: value}
	return nil
}

// SetNX 实现 Store 接口。
func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry
	return true, nil
}

// Delete 实现 Store 接口。
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	if _, ok := m.lookup(key); !ok {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

// CompareAndDelete 实现 Store 接口。
func (m *MemoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	entry, ok := m.lookup(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

// Incr 实现 Store 接口，保留已有的过期时间。
func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	entry, _ := m.lookup(key)
	var current int64
	if entry.value != "" {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "value is not an integer",
				xerrors.WithMetadata("key", key))
		}
		current = parsed
	}
	current++
	entry.value = strconv.FormatInt(current, 10)
	m.data[key] = entry
	return current, nil
}

// IncrByFloat 实现 Store 接口，保留已有的过期时间。
func (m *MemoryStore) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	entry, _ := m.lookup(key)
	current, err := ParseAmount(entry.value)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "value is not a valid float",
			xerrors.WithMetadata("key", key))
	}
	current += delta
	entry.value = FormatAmount(current)
	m.data[key] = entry
	return current, nil
}

// Expire 实现 Store 接口。
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	entry, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(m.data, key)
		return true, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	m.data[key] = entry
	return true, nil
}

// Ping 实现 Store 接口。
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkOpen()
}

// Kind 返回 "memory"。
func (m *MemoryStore) Kind() string { return KindMemory }

// Close 关闭后端，之后的所有操作返回存储错误。
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
