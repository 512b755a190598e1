package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
)

// compareAndDelete 只在值匹配时删除键，用于带令牌的锁释放。
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config 描述 Redis 后端的连接参数。URL 优先于 Address。
type Config struct {
	URL         string
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Store 使用 Redis 实现 ledger.Store。
type Store struct {
	client *goredis.Client
}

var _ ledger.Store = (*Store)(nil)

// NewStore 创建 Redis 后端并通过 PING 验证连通性。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Store{client: client}, nil
}

// NewStoreFromClient 复用已有的客户端，主要用于测试。
func NewStoreFromClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

func buildOptions(cfg Config) (*goredis.Options, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		opts, err := goredis.ParseURL(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "invalid redis url")
		}
		if cfg.DialTimeout > 0 {
			opts.DialTimeout = cfg.DialTimeout
		}
		return opts, nil
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis address 不能为空")
	}
	return &goredis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}, nil
}

func storageError(op, key string, err error) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis "+op, xerrors.WithMetadata("key", key))
}

// Get 实现 ledger.Store。
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageError("get", key, err)
	}
	return value, true, nil
}

// Set 实现 ledger.Store。
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return storageError("set", key, err)
	}
	return nil
}

// SetNX 实现 ledger.Store，值与过期时间在同一条命令中写入。
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, storageError("setnx", key, err)
	}
	return ok, nil
}

// Delete 实现 ledger.Store。
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, storageError("del", key, err)
	}
	return n > 0, nil
}

// CompareAndDelete 实现 ledger.Store。
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, expected).Int64()
	if err != nil {
		return false, storageError("compare-and-delete", key, err)
	}
	return n > 0, nil
}

// Incr 实现 ledger.Store。
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, storageError("incr", key, err)
	}
	return n, nil
}

// IncrByFloat 实现 ledger.Store。
func (s *Store) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	value, err := s.client.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, storageError("incrbyfloat", key, err)
	}
	return value, nil
}

// Expire 实现 ledger.Store。
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, storageError("expire", key, err)
	}
	return ok, nil
}

// Ping 实现 ledger.Store。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storageError("ping", "", err)
	}
	return nil
}

// Kind 返回 "redis"。
func (s *Store) Kind() string { return ledger.KindRedis }

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
