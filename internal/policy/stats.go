package policy

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"SpendGuard/internal/journal"
	"SpendGuard/internal/ledger"
	"SpendGuard/pkg/latencylog"
)

// AgentStatus 是代理账本的只读快照。Budget 为余额与已花费之和。
type AgentStatus struct {
	AgentID   string  `json:"agent_id"`
	Budget    float64 `json:"budget"`
	Remaining float64 `json:"remaining"`
	Spent     float64 `json:"spent"`
	Killed    bool    `json:"killed"`
}

// ResilienceStats 汇总全局计数器。CircuitBreakerTrips 在服务端恒为 0，
// 断路器状态只存在于客户端。
type ResilienceStats struct {
	ZombieAgents        int64 `json:"zombie_agents"`
	TotalBreaches       int64 `json:"total_breaches"`
	CircuitBreakerTrips int64 `json:"circuit_breaker_trips"`
}

// Status 不加锁读取代理账本，代理不存在时返回 (nil, nil)。
func (e *Engine) Status(ctx context.Context, agentID string) (*AgentStatus, error) {
	agentID = strings.TrimSpace(agentID)
	balance, found, err := e.readAmount(ctx, ledger.BalanceKey(agentID))
	if err != nil || !found {
		return nil, err
	}
	spent, _, err := e.readAmount(ctx, ledger.SpentKey(agentID))
	if err != nil {
		return nil, err
	}
	killedRaw, _, err := e.store.Get(ctx, ledger.KilledKey(agentID))
	if err != nil {
		return nil, err
	}
	return &AgentStatus{
		AgentID:   agentID,
		Budget:    ledger.Quantize(balance + spent),
		Remaining: balance,
		Spent:     spent,
		Killed:    ledger.ParseKilled(killedRaw),
	}, nil
}

// ResilienceStats 读取全局计数器，读取失败时记录日志并返回零值。
func (e *Engine) ResilienceStats(ctx context.Context) ResilienceStats {
	breaches, err := e.readCounter(ctx, ledger.BreachesKey)
	if err != nil {
		e.logger.Error("read resilience stats failed", slog.Any("error", err))
		return ResilienceStats{}
	}
	zombies, err := e.readCounter(ctx, ledger.ZombiesKey)
	if err != nil {
		e.logger.Error("read resilience stats failed", slog.Any("error", err))
		return ResilienceStats{}
	}
	return ResilienceStats{ZombieAgents: zombies, TotalBreaches: breaches}
}

func (e *Engine) readCounter(ctx context.Context, key string) (int64, error) {
	raw, found, err := e.store.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

// LatencyStats 汇总延迟旁路日志中最近的样本，读取失败时返回空统计。
func (e *Engine) LatencyStats() latencylog.Stats {
	stats, err := latencylog.Read(e.latencyPath, e.latencyWindow)
	if err != nil {
		e.logger.Error("read latency stats failed", slog.String("path", e.latencyPath), slog.Any("error", err))
		return latencylog.Stats{History: []float64{}}
	}
	if stats.History == nil {
		stats.History = []float64{}
	}
	return stats
}

// Journal 返回代理最近的裁决记录。
func (e *Engine) Journal(ctx context.Context, agentID string, limit int) ([]journal.Entry, error) {
	entries, err := e.journal.ListByAgent(ctx, strings.TrimSpace(agentID), limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}
