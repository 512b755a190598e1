package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SpendGuard/internal/journal"
)

const (
	insertEntrySQL = `INSERT INTO spend_journal
    (id, agent_id, action, cost, is_zombie, outcome, reason, remaining, model, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	listByAgentSQL = `SELECT id, agent_id, action, cost, is_zombie, outcome, reason, remaining, model, created_at
    FROM spend_journal WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`
)

// JournalRepository 使用 MySQL 持久化裁决记录。
type JournalRepository struct {
	db *sql.DB
}

var _ journal.Repository = (*JournalRepository)(nil)

// NewJournalRepository 建立连接池并执行迁移。
func NewJournalRepository(ctx context.Context, cfg Config) (*JournalRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &JournalRepository{db: db}, nil
}

// Append 写入一条记录。created_at 以毫秒时间戳存储。
func (r *JournalRepository) Append(ctx context.Context, entry journal.Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("裁决记录缺少 ID")
	}
	zombie := 0
	if entry.IsZombie {
		zombie = 1
	}
	if _, err := r.db.ExecContext(ctx, insertEntrySQL,
		entry.ID,
		entry.AgentID,
		string(entry.Action),
		entry.Cost,
		zombie,
		string(entry.Outcome),
		entry.Reason,
		entry.Remaining,
		entry.Model,
		entry.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入裁决记录失败: %w", err)
	}
	return nil
}

// ListByAgent 查询代理最近的记录。
func (r *JournalRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = journal.DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, listByAgentSQL, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询裁决记录失败: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var (
			entry     journal.Entry
			action    string
			outcome   string
			zombie    int
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &action, &entry.Cost, &zombie, &outcome,
			&entry.Reason, &entry.Remaining, &entry.Model, &createdAt); err != nil {
			return nil, fmt.Errorf("解析裁决记录失败: %w", err)
		}
		entry.Action = journal.Action(action)
		entry.Outcome = journal.Outcome(outcome)
		entry.IsZombie = zombie == 1
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历裁决记录失败: %w", err)
	}
	return entries, nil
}

// Close 关闭底层连接池。
func (r *JournalRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
