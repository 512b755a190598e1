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

// resolveAgent 在未指定代理时回落到默认代理。
func resolveAgent(agentID string) string {
	if id := strings.TrimSpace(agentID); id != "" {
		return id
	}
	return ledger.DefaultAgentID
}

// KillSwitch 为代理打开熔断开关，之后的每次心跳都会被拒绝。
func (e *Engine) KillSwitch(ctx context.Context, agentID string) (string, error) {
	agentID = resolveAgent(agentID)
	return agentID, e.setKilled(ctx, agentID, true)
}

// Revive 清除代理的熔断开关。
func (e *Engine) Revive(ctx context.Context, agentID string) (string, error) {
	agentID = resolveAgent(agentID)
	return agentID, e.setKilled(ctx, agentID, false)
}

func (e *Engine) setKilled(ctx context.Context, agentID string, killed bool) error {
	var remaining float64
	err := e.locker.WithLock(ctx, agentID, func(ctx context.Context) error {
		balance, found, err := e.readAmount(ctx, ledger.BalanceKey(agentID))
		if err != nil {
			return err
		}
		if !found {
			return errAgentNotFound(agentID)
		}
		remaining = balance
		return e.store.Set(ctx, ledger.KilledKey(agentID), ledger.FormatKilled(killed))
	})

	action := journal.ActionKillSwitch
	if !killed {
		action = journal.ActionRevive
	}
	e.metrics.ObserveAdminAction(string(action), adminResultLabel(err))
	if err != nil {
		return err
	}

	d := decision{action: action, agentID: agentID, outcome: journal.OutcomeAccepted, remaining: remaining}
	if killed {
		e.audit.Info("kill switch activated", slog.String("agent_id", agentID))
		d.alert = &alerting.Event{Kind: alerting.KindAdminKill, Message: "kill switch activated by operator", Severity: xerrors.SeverityWarning}
	} else {
		e.audit.Info("agent revived", slog.String("agent_id", agentID))
		d.alert = &alerting.Event{Kind: alerting.KindRevived, Message: "kill switch cleared by operator", Severity: xerrors.SeverityInfo}
	}
	e.settle(ctx, d)
	return nil
}

// TopUp 为代理追加预算并返回新余额。
func (e *Engine) TopUp(ctx context.Context, agentID string, amount float64) (float64, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return 0, errInvalid("agent_id is required")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, errInvalid("amount must be a positive number")
	}
	amount = ledger.Quantize(amount)

	var remaining float64
	err := e.locker.WithLock(ctx, agentID, func(ctx context.Context) error {
		_, found, err := e.store.Get(ctx, ledger.BalanceKey(agentID))
		if err != nil {
			return err
		}
		if !found {
			return errAgentNotFound(agentID)
		}
		remaining, err = e.addAmount(ctx, ledger.BalanceKey(agentID), amount)
		return err
	})
	e.metrics.ObserveAdminAction(string(journal.ActionTopUp), adminResultLabel(err))
	if err != nil {
		return 0, err
	}

	e.audit.Info("budget topped up",
		slog.String("agent_id", agentID),
		slog.Float64("amount", amount),
		slog.Float64("remaining", remaining))
	e.settle(ctx, decision{
		action:    journal.ActionTopUp,
		agentID:   agentID,
		cost:      amount,
		outcome:   journal.OutcomeAccepted,
		remaining: remaining,
	})
	return remaining, nil
}

func adminResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case xerrors.CodeOf(err) == CodeAgentNotFound:
		return "not_found"
	case xerrors.CodeOf(err) == CodeServiceBusy:
		return "busy"
	default:
		return "error"
	}
}
