package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"TickerStream/internal/api"
	"TickerStream/internal/config"
	"TickerStream/internal/logging"
	"TickerStream/internal/metrics"
	"TickerStream/internal/notifier"
	"TickerStream/internal/publisher"
	"TickerStream/internal/recorder"
	"TickerStream/internal/scheduler"
	"TickerStream/internal/stream"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config validation", zap.Error(err))
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tickerstream exited", zap.Error(err))
	}
	logger.Info("tickerstream stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := stream.New(cfg.StreamConfig(),
		stream.WithLogger(logger.Named("stream")),
		stream.WithDialer(stream.NewWSDialer(cfg.Proxy, cfg.Stream.HandshakeTimeout)),
	)

	// Recorder
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			logger.Warn("create data dir failed", zap.Error(err))
		}
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logger.Named("recorder"))
		if err != nil {
			logger.Warn("init sqlite recorder failed, using noop", zap.Error(err))
		} else {
			rec = sr
			defer sr.Close()
		}
	}
	client.Subscribe(recorder.NewWatcher(rec, logger.Named("watcher")).Listen)

	// Metrics
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		return err
	}
	client.Subscribe(m.Listen)

	g, ctx := errgroup.WithContext(ctx)

	// Redis fan-out
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed; publishing will retry per quote", zap.Error(err))
		}
		pub := publisher.NewRedisPublisher(rdb, logger)
		client.Subscribe(pub.Listen)
		g.Go(func() error { return pub.Run(ctx) })
	}

	// Operator notifications
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
	sched := scheduler.NewScheduler(client, rec, cfg.Database.RetentionDays, logger)
	if tn.Enabled() {
		alerter := notifier.NewAlerter(tn, logger)
		client.Subscribe(alerter.Listen)
		g.Go(func() error { return alerter.Run(ctx) })
		g.Go(func() error {
			tn.StartPolling(ctx, sched.HandleCommand)
			return nil
		})
	}

	// Scheduler
	if err := sched.RegisterAll(scheduler.Schedule{
		SessionOpen: cfg.Schedule.SessionOpenCron,
		Snapshot:    cfg.Schedule.SnapshotCron,
		Prune:       cfg.Schedule.PruneCron,
	}); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// HTTP + browser push
	hub := api.NewHub(logger)
	hub.Listen(client.Snapshot())
	client.Subscribe(hub.Listen)
	srv := api.NewServer(client, hub, logger, api.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ControlToken:   cfg.HTTP.ControlToken,
		Metrics:        m,
		Gatherer:       reg,
	})
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, cfg.HTTP.Addr) })

	g.Go(func() error { return client.Run(ctx) })

	logger.Info("tickerstream running",
		zap.String("symbol", client.Symbol()),
		zap.String("endpoint", cfg.Stream.Endpoint),
		zap.String("http", cfg.HTTP.Addr))

	return g.Wait()
}
