package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"SpendGuard/internal/api"
	"SpendGuard/internal/config"
	"SpendGuard/internal/journal"
	"SpendGuard/internal/ledger"
	"SpendGuard/internal/observability/alerting"
	"SpendGuard/internal/observability/metrics"
	"SpendGuard/internal/policy"
	"SpendGuard/internal/storage"
	"SpendGuard/internal/storage/mysql"
	"SpendGuard/pkg/logger"
)

const storeProbeInterval = 30 * time.Second

// main 是策略引擎守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("policyd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("POLICY_CONFIG"))
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("policyd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	store, err := storage.Open(ctx, storage.Options{
		RedisURL:     cfg.Storage.RedisURL,
		ProbeTimeout: cfg.Storage.ProbeTimeout,
		Logger:       logger.Named("storage"),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := ledger.SeedAgents(ctx, store, cfg.Policy.Agents, appLog); err != nil {
		return err
	}

	repo, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Audit()}}
	if cfg.Alerting.RabbitMQURL != "" {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:      cfg.Alerting.RabbitMQURL,
			Exchange: cfg.Alerting.Exchange,
		})
		if err != nil {
			appLog.Error("连接告警交换机失败，仅写审计日志", slog.Any("error", err))
		} else {
			defer amqpNotifier.Close()
			notifiers = append(notifiers, amqpNotifier)
		}
	}

	collector := metrics.NewCollector(metrics.DefaultNamespace)
	engine := policy.NewEngine(store,
		policy.WithLockTimeout(cfg.Policy.LockTimeout),
		policy.WithLockRetryInterval(cfg.Policy.LockRetry),
		policy.WithJournal(repo),
		policy.WithAlerts(alerting.NewFanout(notifiers...)),
		policy.WithMetrics(collector),
		policy.WithLatencyLog(cfg.Policy.LatencyLog, cfg.Policy.LatencyWindow),
	)

	server := api.NewServer(cfg.Address(), engine, api.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		TrustedHosts:    cfg.Server.TrustedHosts,
		RateLimitRPS:    cfg.Server.RateLimit.RPS,
		RateLimitBurst:  cfg.Server.RateLimit.Burst,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Metrics:         collector,
		Logger:          logger.Named("api"),
	})

	appLog.Info("policy engine starting",
		slog.String("addr", cfg.Address()),
		slog.String("store", engine.StoreKind()),
		slog.String("journal", cfg.Journal.Driver),
		slog.Int("agents", len(cfg.Policy.Agents)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return watchStore(gctx, engine, appLog) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("policy engine stopped")
	return nil
}

// watchStore 定期探测账本后端，只记录状态变化。
func watchStore(ctx context.Context, engine *policy.Engine, log *slog.Logger) error {
	ticker := time.NewTicker(storeProbeInterval)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, storeProbeInterval/2)
			err := engine.Health(probeCtx)
			cancel()
			switch {
			case err != nil && healthy:
				log.Error("账本后端不可用", slog.String("store", engine.StoreKind()), slog.Any("error", err))
			case err == nil && !healthy:
				log.Info("账本后端已恢复", slog.String("store", engine.StoreKind()))
			}
			healthy = err == nil
		}
	}
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Repository, error) {
	switch cfg.Journal.Driver {
	case config.JournalDriverMemory:
		return journal.NewFileRepository(cfg.Runtime.DataDir)
	case config.JournalDriverMySQL:
		return mysql.NewJournalRepository(ctx, mysql.Config{DSN: cfg.Journal.DSN})
	default:
		return nil, fmt.Errorf("未知的流水驱动: %s", cfg.Journal.Driver)
	}
}
