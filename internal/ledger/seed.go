package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultAgentID 是未配置代理时默认播种的代理。
const DefaultAgentID = "Agent_007"

// DefaultBudget 是默认代理的初始预算。
const DefaultBudget = 100.0

// Seed 描述一个需要在首次启动时写入账本的代理。
type Seed struct {
	AgentID string  `yaml:"id"`
	Budget  float64 `yaml:"budget"`
}

// SeedAgents 为余额键不存在的代理写入初始记录，已存在的代理保持不变。
// 余额键通过 SetNX 抢占，多个引擎实例同时启动时只有一个会写入。
func SeedAgents(ctx context.Context, store Store, seeds []Seed, log *slog.Logger) (int, error) {
	seeded := 0
	for _, seed := range seeds {
		agentID := strings.TrimSpace(seed.AgentID)
		if agentID == "" {
			continue
		}
		budget := Quantize(seed.Budget)
		created, err := store.SetNX(ctx, BalanceKey(agentID), FormatAmount(budget), 0)
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", agentID, err)
		}
		if !created {
			continue
		}
		if err := store.Set(ctx, SpentKey(agentID), FormatAmount(0)); err != nil {
			return seeded, fmt.Errorf("seed %s spent: %w", agentID, err)
		}
		if err := store.Set(ctx, KilledKey(agentID), FormatKilled(false)); err != nil {
			return seeded, fmt.Errorf("seed %s killed flag: %w", agentID, err)
		}
		seeded++
		if log != nil {
			log.Info("seeded agent ledger", slog.String("agent_id", agentID), slog.Float64("budget", budget))
		}
	}
	return seeded, nil
}
