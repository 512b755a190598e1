package guard

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"SpendGuard/internal/ledger"
	"SpendGuard/pkg/latencylog"
	"SpendGuard/pkg/logger"
)

const (
	// EnvPolicyEngineURL names the variable read when no URL is configured.
	EnvPolicyEngineURL = "POLICY_ENGINE_URL"
	// DefaultPolicyEngineURL is used when neither option nor env is set.
	DefaultPolicyEngineURL = "http://localhost:8001"
	// DefaultCost is charged per call.
	DefaultCost = 0.05
	// DefaultModel is reported in heartbeat metadata.
	DefaultModel = "gpt-4-mock"
)

// Client wraps a Caller with the two enforcement layers: the local guard
// decides synchronously, the policy engine is informed asynchronously.
type Client struct {
	agentID    string
	cost       float64
	model      string
	guard      *Guard
	dispatcher *Dispatcher
	caller     Caller
	latency    *latencylog.Writer
	logger     *slog.Logger
}

type clientConfig struct {
	agentID     string
	engineURL   string
	httpClient  *http.Client
	transport   Transport
	caller      Caller
	cost        float64
	model       string
	modelSet    bool
	latencyPath string
	guardOpts   []Option
	dispOpts    []DispatcherOption
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithAgentID sets the agent the client spends for.
func WithAgentID(id string) ClientOption {
	return func(c *clientConfig) { c.agentID = strings.TrimSpace(id) }
}

// WithPolicyEngineURL overrides POLICY_ENGINE_URL.
func WithPolicyEngineURL(u string) ClientOption {
	return func(c *clientConfig) { c.engineURL = strings.TrimSpace(u) }
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithTransport replaces the HTTP transport entirely.
func WithTransport(t Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithCaller sets the guarded call. Defaults to NewEchoCaller().
func WithCaller(caller Caller) ClientOption {
	return func(c *clientConfig) { c.caller = caller }
}

// WithCost sets the cost reported per call.
func WithCost(cost float64) ClientOption {
	return func(c *clientConfig) { c.cost = cost }
}

// WithModel sets the model name reported in heartbeat metadata. Without it a
// Caller that reports its own model, such as ChatCaller, is used as the source.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		c.model = model
		c.modelSet = true
	}
}

// WithLatencyLog appends the guard overhead of every admitted call to path.
func WithLatencyLog(path string) ClientOption {
	return func(c *clientConfig) { c.latencyPath = path }
}

// WithGuardOptions forwards options to the underlying Guard.
func WithGuardOptions(opts ...Option) ClientOption {
	return func(c *clientConfig) { c.guardOpts = append(c.guardOpts, opts...) }
}

// WithDispatcherOptions forwards options to the underlying Dispatcher.
func WithDispatcherOptions(opts ...DispatcherOption) ClientOption {
	return func(c *clientConfig) { c.dispOpts = append(c.dispOpts, opts...) }
}

// WithClientLogger sets the logger shared by the client, guard and dispatcher.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewClient builds a guarded client and starts its dispatcher.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		agentID: ledger.DefaultAgentID,
		cost:    DefaultCost,
		model:   DefaultModel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logger.Named("guard")
	}
	if cfg.caller == nil {
		cfg.caller = NewEchoCaller()
	}
	if named, ok := cfg.caller.(interface{ Model() string }); ok && !cfg.modelSet {
		cfg.model = named.Model()
	}
	if cfg.transport == nil {
		engineURL := cfg.engineURL
		if engineURL == "" {
			engineURL = strings.TrimSpace(os.Getenv(EnvPolicyEngineURL))
		}
		if engineURL == "" {
			engineURL = DefaultPolicyEngineURL
		}
		transport, err := NewHTTPTransport(engineURL, cfg.httpClient)
		if err != nil {
			return nil, err
		}
		cfg.transport = transport
	}

	var latency *latencylog.Writer
	if cfg.latencyPath != "" {
		w, err := latencylog.Open(cfg.latencyPath)
		if err != nil {
			return nil, err
		}
		latency = w
	}

	g := New(append([]Option{WithLogger(cfg.logger)}, cfg.guardOpts...)...)
	dispatcher := NewDispatcher(g, cfg.transport, append([]DispatcherOption{WithDispatcherLogger(cfg.logger)}, cfg.dispOpts...)...)
	return &Client{
		agentID:    cfg.agentID,
		cost:       cfg.cost,
		model:      cfg.model,
		guard:      g,
		dispatcher: dispatcher,
		caller:     cfg.caller,
		latency:    latency,
		logger:     cfg.logger,
	}, nil
}

// AgentID returns the agent this client spends for.
func (c *Client) AgentID() string { return c.agentID }

// Guard exposes the local guard, mostly for inspection.
func (c *Client) Guard() *Guard { return c.guard }

// Dropped reports how many heartbeats were discarded because the dispatch
// queue was full.
func (c *Client) Dropped() int64 { return c.dispatcher.Dropped() }

// Create runs prompt through the guarded call. Local rejections are returned
// before any I/O. The heartbeat carries the zombie verdict computed from the
// responses seen so far; its outcome only affects later calls.
func (c *Client) Create(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	if err := c.guard.Admit(); err != nil {
		return "", err
	}

	c.dispatcher.Dispatch(Report{
		AgentID:  c.agentID,
		Cost:     c.cost,
		IsZombie: c.guard.IsZombie(),
		Metadata: map[string]any{"model": c.model},
	})

	if err := c.latency.Record(time.Since(start)); err != nil {
		c.logger.Warn("record latency failed", slog.Any("error", err))
	}

	text, err := c.caller.Call(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.guard.RecordResponse(text)
	return text, nil
}

// Close drains pending heartbeats and closes the latency log.
func (c *Client) Close() error {
	c.dispatcher.Close()
	return c.latency.Close()
}
