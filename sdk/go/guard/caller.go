package guard

import (
	"context"
	"time"
)

// Caller performs the paid call the guard protects.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, prompt string) (string, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// DefaultEchoDelay simulates the latency of a remote model.
const DefaultEchoDelay = 100 * time.Millisecond

// EchoCaller is a stand-in model that answers "Processed: <prompt>".
type EchoCaller struct {
	Delay time.Duration
}

// NewEchoCaller returns an EchoCaller with DefaultEchoDelay.
func NewEchoCaller() EchoCaller { return EchoCaller{Delay: DefaultEchoDelay} }

// Call implements Caller.
func (e EchoCaller) Call(ctx context.Context, prompt string) (string, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "Processed: " + prompt, nil
}
