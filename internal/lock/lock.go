// Package lock implements a token-based mutual exclusion lock on top of the
// ledger store. The lock serializes every mutation of one agent's record
// across all engine instances that share the store.
package lock

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
)

// CodeServiceBusy is returned when a lock cannot be acquired in time.
const CodeServiceBusy xerrors.Code = "SERVICE_BUSY"

func init() {
	xerrors.Register(CodeServiceBusy, xerrors.Attributes{
		Message:    "service busy",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
}

const (
	// DefaultTimeout bounds both the acquisition wait and the lock expiry.
	DefaultTimeout = 5 * time.Second
	// DefaultRetryInterval is the pause between acquisition attempts.
	DefaultRetryInterval = 10 * time.Millisecond

	releaseTimeout = 2 * time.Second
)

// Locker acquires leases on named resources.
type Locker struct {
	store    ledger.Store
	timeout  time.Duration
	retry    time.Duration
	logger   *slog.Logger
	observer func(wait time.Duration, acquired bool)
	newToken func() string
}

// Option customises a Locker.
type Option func(*Locker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLogger sets the logger used for release anomalies.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithWaitObserver registers a callback invoked after every acquisition
// attempt with the time spent waiting.
func WithWaitObserver(fn func(wait time.Duration, acquired bool)) Option {
	return func(l *Locker) { l.observer = fn }
}

// New builds a Locker over store.
func New(store ledger.Store, opts ...Option) *Locker {
	l := &Locker{
		store:    store,
		timeout:  DefaultTimeout,
		retry:    DefaultRetryInterval,
		logger:   slog.Default(),
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Timeout reports the configured acquisition timeout.
func (l *Locker) Timeout() time.Duration { return l.timeout }

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	locker   *Locker
	resource string
	key      string
	token    string
	once     sync.Once
	err      error
}

// Acquire polls until the lock on resource is held, the timeout elapses or
// ctx is done. A timeout yields CodeServiceBusy.
func (l *Locker) Acquire(ctx context.Context, resource string) (*Lease, error) {
	key := ledger.LockKey(resource)
	token := l.newToken()
	start := time.Now()
	deadline := start.Add(l.timeout)

	for {
		ok, err := l.store.SetNX(ctx, key, token, l.timeout)
		if err != nil {
			l.observe(start, false)
			return nil, err
		}
		if ok {
			l.observe(start, true)
			return &Lease{locker: l, resource: resource, key: key, token: token}, nil
		}

		if !time.Now().Add(l.retry).Before(deadline) {
			l.observe(start, false)
			return nil, xerrors.New(CodeServiceBusy, "could not acquire lock",
				xerrors.WithMetadata("resource", resource))
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.observe(start, false)
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "lock acquisition cancelled",
				xerrors.WithMetadata("resource", resource))
		case <-timer.C:
		}
	}
}

func (l *Locker) observe(start time.Time, acquired bool) {
	if l.observer != nil {
		l.observer(time.Since(start), acquired)
	}
}

// Release deletes the lock only if it still carries this lease's token.
// A lease that expired and was taken by another holder is left untouched.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		deleted, err := l.locker.store.CompareAndDelete(releaseCtx, l.key, l.token)
		if err != nil {
			l.err = err
			l.locker.logger.Error("lock release failed",
				slog.String("resource", l.resource), slog.Any("error", err))
			return
		}
		if !deleted {
			l.locker.logger.Warn("lock expired before release",
				slog.String("resource", l.resource))
		}
	})
	return l.err
}

// WithLock runs fn while holding the lock on resource. The lock is released
// on every exit path of fn, panics included.
//
// Only acquisition follows ctx. Once the lock is held, fn runs on a context
// that ignores the caller's cancellation and expires with the lease, so a
// disconnecting caller cannot interrupt a sequence of ledger writes halfway.
func (l *Locker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, resource)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release(ctx) }()

	held, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	return fn(held)
}
