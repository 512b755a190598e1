package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"SpendGuard/internal/journal"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/lock"
	"SpendGuard/internal/observability/alerting"
	"SpendGuard/internal/observability/metrics"
	"SpendGuard/pkg/latencylog"
	"SpendGuard/pkg/logger"
)

// sideEffectTimeout 限制锁释放后写流水与发告警的耗时。
const sideEffectTimeout = 5 * time.Second

// Engine 是策略引擎，所有依赖在构造时显式注入。
type Engine struct {
	store   ledger.Store
	locker  *lock.Locker
	journal journal.Repository
	alerts  alerting.Dispatcher
	metrics *metrics.Collector
	logger  *slog.Logger
	audit   *slog.Logger

	lockTimeout   time.Duration
	lockRetry     time.Duration
	latencyPath   string
	latencyWindow int
	now           func() time.Time
	newID         func() string
}

// Option 定义引擎的可选配置。
type Option func(*Engine)

// WithLogger 设置运行日志。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAuditLogger 设置记录裁决的审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.audit = l
		}
	}
}

// WithLockTimeout 覆盖锁的等待与过期时间。
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithLockRetryInterval 覆盖锁的重试间隔。
func WithLockRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.lockRetry = d }
}

// WithJournal 设置裁决流水。
func WithJournal(repo journal.Repository) Option {
	return func(e *Engine) {
		if repo != nil {
			e.journal = repo
		}
	}
}

// WithAlerts 设置告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(e *Engine) { e.alerts = d }
}

// WithMetrics 设置指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithLatencyLog 设置延迟旁路日志的路径与统计窗口。
func WithLatencyLog(path string, window int) Option {
	return func(e *Engine) {
		if path != "" {
			e.latencyPath = path
		}
		if window > 0 {
			e.latencyWindow = window
		}
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine 基于账本存储构造引擎。
func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		journal:       journal.Nop{},
		lockTimeout:   lock.DefaultTimeout,
		lockRetry:     lock.DefaultRetryInterval,
		latencyPath:   latencylog.DefaultPath,
		latencyWindow: latencylog.DefaultWindow,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("policy")
	}
	if e.audit == nil {
		e.audit = logger.Audit()
	}
	e.locker = lock.New(store,
		lock.WithTimeout(e.lockTimeout),
		lock.WithRetryInterval(e.lockRetry),
		lock.WithLogger(e.logger),
		lock.WithWaitObserver(e.metrics.ObserveLockWait),
	)
	return e
}

// StoreKind 返回当前账本后端的类型。
func (e *Engine) StoreKind() string { return e.store.Kind() }

// Health 探测账本后端是否可用。
func (e *Engine) Health(ctx context.Context) error { return e.store.Ping(ctx) }

// decision 是一次裁决在锁外需要产生的副作用。
type decision struct {
	action    journal.Action
	agentID   string
	cost      float64
	zombie    bool
	outcome   journal.Outcome
	reason    Reason
	remaining float64
	model     string
	alert     *alerting.Event
}

// settle 写流水与告警。调用方必须已经释放代理锁，失败只记录日志。
func (e *Engine) settle(ctx context.Context, d decision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	now := e.now().UTC()
	entry := journal.Entry{
		ID:        e.newID(),
		AgentID:   d.agentID,
		Action:    d.action,
		Cost:      d.cost,
		IsZombie:  d.zombie,
		Outcome:   d.outcome,
		Reason:    string(d.reason),
		Remaining: d.remaining,
		Model:     d.model,
		CreatedAt: now,
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		e.logger.Error("journal append failed",
			slog.String("agent_id", d.agentID),
			slog.String("action", string(d.action)),
			slog.Any("error", err))
	}

	if d.alert != nil && e.alerts != nil {
		event := *d.alert
		event.AgentID = d.agentID
		event.OccurredAt = now
		if err := e.alerts.Notify(ctx, event); err != nil {
			e.logger.Error("alert dispatch failed",
				slog.String("agent_id", d.agentID),
				slog.String("kind", string(event.Kind)),
				slog.Any("error", err))
		}
	}
}
