package mysql

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"SpendGuard/internal/journal"
)

func newMock(t *testing.T) (*JournalRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return &JournalRepository{db: db}, mock
}

func TestJournalRepositoryAppend(t *testing.T) {
	t.Parallel()

	repo, mock := newMock(t)
	created := time.UnixMilli(1_700_000_000_123).UTC()
	mock.ExpectExec(insertEntrySQL).
		WithArgs("id-1", "Agent_007", "heartbeat", 0.05, 1, "rejected", "zombie", 99.5, "gpt-4o", created.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), journal.Entry{
		ID:        "id-1",
		AgentID:   "Agent_007",
		Action:    journal.ActionHeartbeat,
		Cost:      0.05,
		IsZombie:  true,
		Outcome:   journal.OutcomeRejected,
		Reason:    "zombie",
		Remaining: 99.5,
		Model:     "gpt-4o",
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func TestJournalRepositoryAppendRequiresID(t *testing.T) {
	t.Parallel()

	repo, _ := newMock(t)
	if err := repo.Append(context.Background(), journal.Entry{AgentID: "A"}); err == nil {
		t.Fatalf("expected error for entry without id")
	}
}

func TestJournalRepositoryListByAgent(t *testing.T) {
	t.Parallel()

	repo, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "agent_id", "action", "cost", "is_zombie", "outcome", "reason", "remaining", "model", "created_at"}).
		AddRow("b", "A", "kill_switch", 0.0, 0, "accepted", "", 10.0, "", int64(2000)).
		AddRow("a", "A", "heartbeat", 0.05, 1, "rejected", "zombie", 10.0, "m", int64(1000))
	mock.ExpectQuery(listByAgentSQL).WithArgs("A", journal.DefaultListLimit).WillReturnRows(rows)

	entries, err := repo.ListByAgent(context.Background(), "A", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("unexpected entry count: got %d want 2", len(entries))
	}
	if entries[0].Action != journal.ActionKillSwitch || entries[1].IsZombie != true {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[1].CreatedAt.Equal(time.UnixMilli(1000)) {
		t.Fatalf("unexpected created_at: %v", entries[1].CreatedAt)
	}
}

func TestRunMigrationsAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil || len(files) == 0 {
		t.Fatalf("failed to load embedded migrations: %v", err)
	}

	repo, mock := newMock(t)
	mock.ExpectExec(createMigrationsTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	for _, file := range files {
		mock.ExpectBegin()
		for _, stmt := range file.statements {
			mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectExec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`).
			WithArgs(file.version, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	if err := runMigrations(context.Background(), repo.db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	files, _ := loadMigrationFiles(embeddedMigrations)
	repo, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"version"})
	for _, file := range files {
		rows.AddRow(file.version)
	}
	mock.ExpectExec(createMigrationsTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(rows)

	if err := runMigrations(context.Background(), repo.db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestLoadMigrationFilesOrdering(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 2;")},
		"0001_a.sql": {Data: []byte("SELECT 1; SELECT 11;")},
		"README.md":  {Data: []byte("ignored")},
		"0003_c.sql": {Data: []byte("  ")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(files) != 2 || files[0].version != "0001" || len(files[0].statements) != 2 {
		t.Fatalf("unexpected files: %+v", files)
	}
}
