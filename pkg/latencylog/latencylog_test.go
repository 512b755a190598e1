package latencylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency.log")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, d := range []time.Duration{100 * time.Millisecond, 150500 * time.Microsecond, 50 * time.Millisecond} {
		if err := w.Record(d); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	_ = w.Close()

	raw, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(raw), "100.0000\n150.5000\n") {
		t.Fatalf("unexpected file format: %q", raw)
	}

	stats, err := Read(path, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stats.Count != 3 || stats.Max != 150.5 || stats.Min != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if want := (100 + 150.5 + 50) / 3; stats.Avg != want {
		t.Fatalf("unexpected avg: got %v want %v", stats.Avg, want)
	}
}

func TestReadMissingFile(t *testing.T) {
	stats, err := Read(filepath.Join(t.TempDir(), "none.log"), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Count != 0 || stats.History == nil {
		t.Fatalf("unexpected stats for missing file: %+v", stats)
	}
}

func TestSummariseKeepsLastWindowAndSkipsGarbage(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 60; i++ {
		fmt.Fprintf(&b, "%d.0000\n", i)
		if i%10 == 0 {
			b.WriteString("garbage\n\nNaN\n")
		}
	}
	stats, err := Summarise(strings.NewReader(b.String()), 50)
	if err != nil {
		t.Fatalf("summarise: %v", err)
	}
	if stats.Count != 50 || stats.History[0] != 11 || stats.History[49] != 60 {
		t.Fatalf("unexpected window: count=%d first=%v last=%v", stats.Count, stats.History[0], stats.History[len(stats.History)-1])
	}
	if stats.Min != 11 || stats.Max != 60 || stats.Avg != 35.5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
