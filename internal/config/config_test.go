package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != "0.0.0.0:8001" {
		t.Fatalf("unexpected address: %s", cfg.Address())
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, DefaultAllowedOrigins) {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Storage.RedisURL != DefaultRedisURL || cfg.Policy.LatencyLog != "latency.log" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.Storage, cfg.Policy)
	}
	want := []ledger.Seed{{AgentID: "Agent_007", Budget: 100}}
	if !reflect.DeepEqual(cfg.Policy.Agents, want) {
		t.Fatalf("unexpected seeds: %+v", cfg.Policy.Agents)
	}
	if cfg.Policy.LockTimeout != 5*time.Second || cfg.Policy.LockRetry != 10*time.Millisecond {
		t.Fatalf("unexpected lock defaults: %+v", cfg.Policy)
	}
	if cfg.Journal.Driver != JournalDriverMemory {
		t.Fatalf("unexpected journal driver: %s", cfg.Journal.Driver)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
server:
  port: 9000
  rate_limit:
    rps: 10
storage:
  redis_url: memory
policy:
  lock_timeout: 2s
  agents:
    - id: alpha
      budget: 5.5
    - id: beta
      budget: 1
runtime:
  data_dir: state
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := load(path, env(map[string]string{
		"PORT":            "8100",
		"ALLOWED_ORIGINS": `["https://a.example", "https://b.example"]`,
		"LOG_LEVEL":       "debug",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8100 {
		t.Fatalf("env must override file: got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit.Burst != 20 {
		t.Fatalf("unexpected derived burst: %d", cfg.Server.RateLimit.Burst)
	}
	if cfg.Storage.RedisURL != "memory" || cfg.Policy.LockTimeout != 2*time.Second {
		t.Fatalf("unexpected file values: %+v %+v", cfg.Storage, cfg.Policy)
	}
	if len(cfg.Policy.Agents) != 2 || cfg.Policy.Agents[0].AgentID != "alpha" || cfg.Policy.Agents[0].Budget != 5.5 {
		t.Fatalf("unexpected seeds: %+v", cfg.Policy.Agents)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if cfg.Logging.Level != "debug" || len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("unexpected env values: %+v %+v", cfg.Logging, cfg.Server)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []map[string]string{
		{"PORT": "abc"},
		{"PORT": "70000"},
		{"ALLOWED_ORIGINS": `["ok", 1]`},
		{"JOURNAL_DRIVER": "postgres"},
		{"JOURNAL_DRIVER": "mysql"},
	}
	for _, values := range cases {
		_, err := load("", env(values))
		if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
			t.Fatalf("expected config error for %v, got %v", values, err)
		}
	}
	if _, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseOrigins(t *testing.T) {
	cases := []struct {
		in   string
		want []string
		ok   bool
	}{
		{in: `["http://localhost:8501","http://localhost:3000"]`, want: []string{"http://localhost:8501", "http://localhost:3000"}, ok: true},
		{in: "http://a, http://b ,", want: []string{"http://a", "http://b"}, ok: true},
		{in: "", want: []string{}, ok: true},
		{in: `[]`, want: []string{}, ok: true},
		{in: `["a", {"b": 1}]`, ok: false},
		{in: `[__import__('os')]`, ok: false},
		{in: `["unterminated"`, ok: false},
	}
	for _, tc := range cases {
		got, err := ParseOrigins(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseOrigins(%q): unexpected error state: %v", tc.in, err)
		}
		if tc.ok && !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseOrigins(%q): got %v want %v", tc.in, got, tc.want)
		}
	}
}
