package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "SpendGuard/internal/errors"
)

// Kind 标识告警事件的类型。
type Kind string

// 支持的事件类型
const (
	KindZombieKilled    Kind = "zombie_killed"
	KindAdminKill       Kind = "admin_kill"
	KindRevived         Kind = "revived"
	KindBudgetExhausted Kind = "budget_exhausted"
)

// Event 描述一次需要告警的执法事件。
type Event struct {
	Kind       Kind              `json:"kind"`
	AgentID    string            `json:"agent_id"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到某个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同名通知器只保留最后一个。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	byName := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		byName[n.Name()] = n
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	set := make([]Notifier, 0, len(names))
	for _, name := range names {
		set = append(set, byName[name])
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道，单个渠道失败不影响其他渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将事件写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Name 返回 "log"。
func (n *LogNotifier) Name() string { return "log" }

// Notify 写入一条结构化日志，级别随严重程度变化。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	level := slog.LevelInfo
	switch event.Severity {
	case xerrors.SeverityWarning:
		level = slog.LevelWarn
	case xerrors.SeverityCritical:
		level = slog.LevelError
	}
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("agent_id", event.AgentID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	n.Logger.Log(ctx, level, event.Message, attrs...)
	return nil
}
