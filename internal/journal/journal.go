// Package journal records every enforcement decision the policy engine makes.
// The journal is an audit trail; the ledger store stays the source of truth.
package journal

import (
	"context"
	"time"
)

// Action 标识产生记录的操作。
type Action string

const (
	ActionHeartbeat  Action = "heartbeat"
	ActionKillSwitch Action = "kill_switch"
	ActionRevive     Action = "revive"
	ActionTopUp      Action = "topup"
)

// Outcome 标识裁决结果。
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// DefaultListLimit 是未指定 limit 时返回的记录数。
const DefaultListLimit = 50

// Entry 是一条裁决记录。
type Entry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Action    Action    `json:"action"`
	Cost      float64   `json:"cost"`
	IsZombie  bool      `json:"is_zombie"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Remaining float64   `json:"remaining"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository 抽象裁决记录的持久化。
type Repository interface {
	Append(ctx context.Context, entry Entry) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]Entry, error)
	Close() error
}

// Nop 丢弃所有记录。
type Nop struct{}

func (Nop) Append(context.Context, Entry) error { return nil }

func (Nop) ListByAgent(context.Context, string, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }
