// Package latencylog is the side channel between guarded clients and the
// policy engine: clients append one latency sample per admitted call, the
// engine reads the most recent samples to serve latency statistics.
//
// The format is one bare decimal number of milliseconds per line, four
// fractional digits, no header.
package latencylog

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"SpendGuard/pkg/logger"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "latency.log"

// DefaultWindow is the number of most recent samples summarised by Read.
const DefaultWindow = 50

// Writer appends latency samples. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// Open returns a Writer appending to path. The file rotates at 10 MiB.
func Open(path string) (*Writer, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	rw, err := logger.NewRotatingWriter(path, logger.RotateConfig{MaxBytes: 10 * 1024 * 1024, MaxBackups: 1})
	if err != nil {
		return nil, err
	}
	return &Writer{out: rw}, nil
}

// NewWriter wraps an arbitrary sink, mostly for tests.
func NewWriter(out io.WriteCloser) *Writer { return &Writer{out: out} }

// Record appends one sample.
func (w *Writer) Record(d time.Duration) error {
	if w == nil {
		return nil
	}
	ms := float64(d) / float64(time.Millisecond)
	line := strconv.FormatFloat(ms, 'f', 4, 64) + "\n"
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := io.WriteString(w.out, line)
	return err
}

// Close closes the underlying sink.
func (w *Writer) Close() error {
	if w == nil || w.out == nil {
		return nil
	}
	return w.out.Close()
}

// Stats summarises the latest samples. History is in file order.
type Stats struct {
	History []float64 `json:"history"`
	Avg     float64   `json:"avg"`
	Max     float64   `json:"max"`
	Min     float64   `json:"min"`
	Count   int       `json:"count"`
}

// Read returns statistics over the last n parseable samples in path. A
// missing file yields empty statistics; unparseable lines are skipped.
func Read(path string, n int) (Stats, error) {
	if n <= 0 {
		n = DefaultWindow
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Stats{History: []float64{}}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	defer file.Close()
	return Summarise(file, n)
}

// Summarise is Read over an arbitrary reader.
func Summarise(r io.Reader, n int) (Stats, error) {
	if n <= 0 {
		n = DefaultWindow
	}
	ring := make([]float64, 0, n)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		value, err := strconv.ParseFloat(strings.TrimSpace(scanner.Text()), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, value)
	}
	if err := scanner.Err(); err != nil {
		return Stats{}, err
	}

	stats := Stats{History: ring, Count: len(ring)}
	if len(ring) == 0 {
		return stats, nil
	}
	stats.Min, stats.Max = ring[0], ring[0]
	sum := 0.0
	for _, v := range ring {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Avg = sum / float64(len(ring))
	return stats, nil
}
