// Package storage selects the ledger backend at startup.
package storage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/storage/redis"
)

// Options 控制后端选择。
type Options struct {
	// RedisURL 为空或为 "memory" 时直接使用内存后端。
	RedisURL     string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Open 探测 Redis 的连通性并返回对应的后端；Redis 不可达时降级为内存后端。
// 只有配置本身错误时才返回 error。
func Open(ctx context.Context, opts Options) (ledger.Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	url := strings.TrimSpace(opts.RedisURL)
	if url == "" || strings.EqualFold(url, ledger.KindMemory) {
		log.Warn("running with in-memory ledger, balances are not persisted")
		return ledger.NewMemoryStore(), nil
	}

	store, err := redis.NewStore(ctx, redis.Config{URL: url, DialTimeout: opts.ProbeTimeout})
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeConfigInvalid {
			return nil, err
		}
		log.Error("redis unreachable, falling back to in-memory ledger",
			slog.String("redis_url", redactURL(url)),
			slog.Any("error", err))
		log.Warn("running with in-memory ledger, balances are not persisted")
		return ledger.NewMemoryStore(), nil
	}
	log.Info("connected to redis ledger", slog.String("redis_url", redactURL(url)))
	return store, nil
}

// redactURL 去掉连接串中的口令部分。
func redactURL(raw string) string {
	schemeEnd := strings.Index(raw, "://")
	at := strings.LastIndex(raw, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return raw
	}
	return raw[:schemeEnd+3] + "***" + raw[at:]
}
