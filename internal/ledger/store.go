package ledger

import (
	"context"
	"time"
)

// 后端类型标识，用于健康检查与日志。
const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

// Store 抽象了账本所需的键值原语，Redis 与内存实现必须具备相同的可观察语义。
type Store interface {
	// Get 返回键值；键不存在或已过期时 ok 为 false。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set 写入键值并清除已有的过期时间。
	Set(ctx context.Context, key, value string) error
	// SetNX 仅在键不存在时写入，ttl 大于 0 时同时设置过期时间。
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete 删除键，返回键此前是否存在。
	Delete(ctx context.Context, key string) (bool, error)
	// CompareAndDelete 仅当当前值等于 expected 时删除键。
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Incr 将整数计数器加一，键不存在时从 0 开始。
	Incr(ctx context.Context, key string) (int64, error)
	// IncrByFloat 以浮点数原子增减键值，键不存在时从 0 开始。
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	// Expire 为已存在的键设置过期时间。
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Kind() string
	Close() error
}
