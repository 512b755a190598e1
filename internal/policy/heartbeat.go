package policy

import (
	"context"
	"log/slog"
	"math"
	"strings"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/journal"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/observability/alerting"
)

// HeartbeatRequest 是客户端在每次付费调用前上报的心跳。
type HeartbeatRequest struct {
	AgentID  string         `json:"agent_id"`
	Cost     float64        `json:"cost"`
	IsZombie bool           `json:"is_zombie"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Model 返回 metadata 中的 model 字段。
func (r HeartbeatRequest) Model() string {
	if r.Metadata == nil {
		return ""
	}
	if model, ok := r.Metadata["model"].(string); ok {
		return model
	}
	return ""
}

// HeartbeatResult 是心跳被接受后的返回值。
type HeartbeatResult struct {
	Status           string  `json:"status"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// Heartbeat 在代理锁内依次检查：代理存在、熔断开关、僵尸标记、余额，全部通过后扣费。
func (e *Engine) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResult, error) {
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		e.metrics.ObserveHeartbeat("invalid")
		return nil, errInvalid("agent_id is required")
	}
	if math.IsNaN(req.Cost) || math.IsInf(req.Cost, 0) || req.Cost < 0 {
		e.metrics.ObserveHeartbeat("invalid")
		return nil, errInvalid("cost must be a non-negative number")
	}
	cost := ledger.Quantize(req.Cost)

	var (
		d      *decision
		result *HeartbeatResult
	)
	err := e.locker.WithLock(ctx, agentID, func(ctx context.Context) error {
		var err error
		d, result, err = e.heartbeatLocked(ctx, agentID, cost, req)
		return err
	})
	if d != nil {
		e.settle(ctx, *d)
	}
	e.metrics.ObserveHeartbeat(heartbeatResultLabel(err))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) heartbeatLocked(ctx context.Context, agentID string, cost float64, req HeartbeatRequest) (*decision, *HeartbeatResult, error) {
	balance, found, err := e.readAmount(ctx, ledger.BalanceKey(agentID))
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, errAgentNotFound(agentID)
	}

	rejected := func(reason Reason) *decision {
		return &decision{
			action:    journal.ActionHeartbeat,
			agentID:   agentID,
			cost:      cost,
			zombie:    req.IsZombie,
			outcome:   journal.OutcomeRejected,
			reason:    reason,
			remaining: balance,
			model:     req.Model(),
		}
	}

	killedRaw, _, err := e.store.Get(ctx, ledger.KilledKey(agentID))
	if err != nil {
		return nil, nil, err
	}
	if ledger.ParseKilled(killedRaw) {
		if _, err := e.store.Incr(ctx, ledger.BreachesKey); err != nil {
			return nil, nil, err
		}
		e.audit.Warn("heartbeat rejected: agent killed", slog.String("agent_id", agentID))
		return rejected(ReasonKilled), nil, errPaymentRequired(agentID, ReasonKilled)
	}

	if req.IsZombie {
		// killed 先于计数写入。
		if err := e.store.Set(ctx, ledger.KilledKey(agentID), ledger.FormatKilled(true)); err != nil {
			return nil, nil, err
		}
		if _, err := e.store.Incr(ctx, ledger.ZombiesKey); err != nil {
			return nil, nil, err
		}
		e.audit.Warn("zombie detected, kill switch activated", slog.String("agent_id", agentID))
		d := rejected(ReasonZombie)
		d.alert = &alerting.Event{
			Kind:     alerting.KindZombieKilled,
			Message:  "zombie agent detected, kill switch activated",
			Severity: xerrors.SeverityCritical,
			Metadata: map[string]string{"model": req.Model()},
		}
		return d, nil, errPaymentRequired(agentID, ReasonZombie)
	}

	if balance < cost {
		if _, err := e.store.Incr(ctx, ledger.BreachesKey); err != nil {
			return nil, nil, err
		}
		e.audit.Warn("heartbeat rejected: insufficient budget",
			slog.String("agent_id", agentID),
			slog.Float64("balance", balance),
			slog.Float64("cost", cost))
		return rejected(ReasonInsufficientBudget), nil, errPaymentRequired(agentID, ReasonInsufficientBudget)
	}

	remaining, err := e.addAmount(ctx, ledger.BalanceKey(agentID), -cost)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.addAmount(ctx, ledger.SpentKey(agentID), cost); err != nil {
		e.rollbackBalance(ctx, agentID, cost)
		return nil, nil, err
	}

	d := &decision{
		action:    journal.ActionHeartbeat,
		agentID:   agentID,
		cost:      cost,
		outcome:   journal.OutcomeAccepted,
		remaining: remaining,
		model:     req.Model(),
	}
	if cost > 0 && remaining < cost {
		d.alert = &alerting.Event{
			Kind:     alerting.KindBudgetExhausted,
			Message:  "remaining balance no longer covers the per-call cost",
			Severity: xerrors.SeverityWarning,
			Metadata: map[string]string{"remaining": ledger.FormatAmount(remaining)},
		}
	}
	return d, &HeartbeatResult{Status: "ok", RemainingBalance: remaining}, nil
}

// readAmount 读取并量化账本金额。
func (e *Engine) readAmount(ctx context.Context, key string) (float64, bool, error) {
	raw, found, err := e.store.Get(ctx, key)
	if err != nil || !found {
		return 0, found, err
	}
	amount, err := ledger.ParseAmount(raw)
	if err != nil {
		return 0, true, xerrors.Wrap(xerrors.CodeStorageFailure, err, "corrupt ledger amount",
			xerrors.WithMetadata("key", key),
			xerrors.WithRetryable(false))
	}
	return ledger.Quantize(amount), true, nil
}

// rollbackBalance 把已扣的余额加回去，保证异常路径不留下半次扣费。
func (e *Engine) rollbackBalance(ctx context.Context, agentID string, cost float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.locker.Timeout())
	defer cancel()
	if _, err := e.addAmount(ctx, ledger.BalanceKey(agentID), cost); err != nil {
		e.logger.Error("balance rollback failed",
			slog.String("agent_id", agentID),
			slog.Float64("cost", cost),
			slog.Any("error", err))
	}
}

// addAmount 原子增减金额，并在结果出现浮点尾差时写回量化值。
// 增减一旦成功即视为生效，写回量化值失败只记日志，下一次写入会再次量化。
func (e *Engine) addAmount(ctx context.Context, key string, delta float64) (float64, error) {
	raw, err := e.store.IncrByFloat(ctx, key, delta)
	if err != nil {
		return 0, err
	}
	quantized := ledger.Quantize(raw)
	if quantized != raw {
		if err := e.store.Set(ctx, key, ledger.FormatAmount(quantized)); err != nil {
			e.logger.Warn("normalise ledger amount failed",
				slog.String("key", key),
				slog.Float64("raw", raw),
				slog.Any("error", err))
		}
	}
	return quantized, nil
}

func heartbeatResultLabel(err error) string {
	if err == nil {
		return "accepted"
	}
	switch xerrors.CodeOf(err) {
	case CodePaymentRequired:
		return string(ReasonOf(err))
	case CodeAgentNotFound:
		return "not_found"
	case CodeServiceBusy:
		return "busy"
	case xerrors.CodeInvalidArgument:
		return "invalid"
	default:
		return "error"
	}
}
