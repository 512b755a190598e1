package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "SpendGuard/internal/errors"
)

type recordingNotifier struct {
	name   string
	events []Event
	err    error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryNotifier(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	failing := &recordingNotifier{name: "failing", err: errors.New("down")}
	fanout := NewFanout(ok, nil, failing)

	err := fanout.Notify(context.Background(), Event{Kind: KindAdminKill, AgentID: "A"})
	if err == nil || !strings.Contains(err.Error(), "channel failing") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
	if ok.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be stamped")
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var fanout *FanoutDispatcher
	if err := fanout.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogNotifierLevels(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	_ = n.Notify(context.Background(), Event{
		Kind:     KindZombieKilled,
		AgentID:  "Agent_007",
		Message:  "zombie agent killed",
		Severity: xerrors.SeverityCritical,
		Metadata: map[string]string{"model": "gpt-4o"},
	})
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if record["level"] != "ERROR" || record["kind"] != "zombie_killed" || record["model"] != "gpt-4o" {
		t.Fatalf("unexpected log record: %v", record)
	}
}

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAMQPNotifierWithPublisher(pub, "")
	at := time.Unix(1_700_000_000, 0).UTC()

	if err := n.Notify(context.Background(), Event{Kind: KindBudgetExhausted, AgentID: "A", OccurredAt: at}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if pub.exchange != DefaultExchange || pub.key != "alert.budget_exhausted" {
		t.Fatalf("unexpected routing: %s %s", pub.exchange, pub.key)
	}
	var decoded Event
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.AgentID != "A" || !decoded.OccurredAt.Equal(at) {
		t.Fatalf("unexpected body: %+v", decoded)
	}
	if pub.msg.ContentType != "application/json" {
		t.Fatalf("unexpected content type: %s", pub.msg.ContentType)
	}
}

func TestNewAMQPNotifierRequiresURL(t *testing.T) {
	if _, err := NewAMQPNotifier(AMQPConfig{}); err == nil {
		t.Fatalf("expected error without url")
	}
}
