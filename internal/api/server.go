package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"SpendGuard/internal/journal"
	"SpendGuard/internal/observability/metrics"
	"SpendGuard/internal/policy"
	"SpendGuard/pkg/latencylog"
	"SpendGuard/pkg/logger"
)

// Policy 是 HTTP 层依赖的策略引擎能力。
type Policy interface {
	Heartbeat(ctx context.Context, req policy.HeartbeatRequest) (*policy.HeartbeatResult, error)
	KillSwitch(ctx context.Context, agentID string) (string, error)
	Revive(ctx context.Context, agentID string) (string, error)
	TopUp(ctx context.Context, agentID string, amount float64) (float64, error)
	Status(ctx context.Context, agentID string) (*policy.AgentStatus, error)
	ResilienceStats(ctx context.Context) policy.ResilienceStats
	LatencyStats() latencylog.Stats
	Journal(ctx context.Context, agentID string, limit int) ([]journal.Entry, error)
	Health(ctx context.Context) error
	StoreKind() string
}

var _ Policy = (*policy.Engine)(nil)

// Options 控制入口防护与观测。
type Options struct {
	AllowedOrigins  []string
	TrustedHosts    []string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
	Metrics         *metrics.Collector
	Logger          *slog.Logger
}

// Server 负责暴露策略引擎的 REST 接口。
type Server struct {
	addr   string
	policy Policy
	opts   Options
	logger *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, p Policy, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Named("api")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{addr: addr, policy: p, opts: opts, logger: log}
}

// Handler 组装路由与中间件。ctx 结束时限流器的后台清理随之退出。
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /admin/kill_switch", s.handleKillSwitch)
	mux.HandleFunc("POST /admin/revive", s.handleRevive)
	mux.HandleFunc("POST /admin/topup", s.handleTopUp)
	mux.HandleFunc("GET /status/{agent_id}", s.handleStatus)
	mux.HandleFunc("GET /stats/latency", s.handleLatencyStats)
	mux.HandleFunc("GET /stats/resilience", s.handleResilienceStats)
	mux.HandleFunc("GET /journal/{agent_id}", s.handleJournal)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())

	middlewares := []Middleware{
		Recovery(s.logger),
		Observe(s.opts.Metrics, s.logger),
		TrustedHosts(s.opts.TrustedHosts),
		CORS(s.opts.AllowedOrigins),
	}
	if s.opts.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, s.opts.RateLimitRPS, s.opts.RateLimitBurst))
	}
	return Chain(mux, middlewares...)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler(ctx)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("policy engine listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody("SHUTTING_DOWN", "服务已关闭", ""))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
