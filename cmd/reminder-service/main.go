package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ecociel/remind/api"
	"github.com/ecociel/remind/domain"
	"github.com/ecociel/remind/gateway/kafka"
	"github.com/ecociel/remind/gateway/ntfy"
	"github.com/ecociel/remind/gateway/webpush"
	"github.com/ecociel/remind/lib/kafkaclient"
	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/lib/token"
	"github.com/ecociel/remind/lib/worker"
	"github.com/ecociel/remind/metrics"
	"github.com/ecociel/remind/migrations"
	"github.com/ecociel/remind/repos/sql"
	"github.com/ecociel/remind/uc"
)

// Task events are retried inline, the partition waits meanwhile.
var syncRetry = queue.RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

func main() {
	cfg, err := LoadConfig("")
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("reminder service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DbConnectionUri)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool); err != nil {
		return err
	}

	jobs := queue.NewPostgres(pool)
	repo := sql.NewPostgresRepo(pool)
	tokens, err := token.New([]byte(cfg.CallbackSecret))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPromMetrics(reg)

	dispatcher := uc.NewDispatcher(repo, repo, repo, tokens, uc.DispatchConfig{
		BaseURL:         cfg.PublicBaseUrl,
		SnoozeMinutes:   cfg.SnoozeMinutes,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, m, logger)

	httpClient := &http.Client{Timeout: cfg.DeliveryTimeout}
	dispatcher.RegisterChannel(domain.ChannelNtfy, ntfy.New(cfg.NtfyServer, httpClient))
	if cfg.VapidPrivateKey != "" {
		dispatcher.RegisterChannel(domain.ChannelWebPush, webpush.New(webpush.Config{
			VAPIDPublicKey:  cfg.VapidPublicKey,
			VAPIDPrivateKey: cfg.VapidPrivateKey,
			Subscriber:      cfg.VapidSubscriber,
		}, httpClient))
	} else {
		logger.Warn("no VAPID keys configured, web push disabled")
	}
	if len(cfg.QueueHostPorts) > 0 {
		kClient, err := kafkaclient.NewProducer(cfg.QueueHostPorts, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kClient.Close()
		dispatcher.RegisterChannel(domain.ChannelKafka, kafka.NewPublisher(kClient, cfg.KafkaTopic))
	} else {
		logger.Warn("no kafka brokers configured, kafka channel and task events disabled")
	}

	wrk := worker.New(jobs, cfg.Worker(), m, logger)
	wrk.RegisterHandler(uc.QueueReminders, dispatcher.Handle)

	callbacks := api.NewCallbackHandler(tokens, repo,
		uc.MakeRescheduleUseCase(repo, jobs, time.Now, logger),
		uc.MakeDismissUseCase(repo, repo, jobs, logger),
		logger)

	var consumer *kafka.TaskConsumer
	if len(cfg.QueueHostPorts) > 0 {
		cClient, err := kafkaclient.NewConsumer(cfg.QueueHostPorts, cfg.TaskEventsGroup, cfg.TaskEventsTopic)
		if err != nil {
			return err
		}
		defer cClient.Close()
		syncTask := uc.MakeSyncTaskUseCase(repo, repo, jobs, time.Now, logger)
		consumer = kafka.NewTaskConsumer(cClient, syncTask, syncRetry, logger.With("topic", cfg.TaskEventsTopic))
	}

	container := restful.NewContainer()
	container.Add(callbacks.WebService())
	container.Add(api.HealthService())
	container.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           container,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		wrk.Run(ctx)
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			consumer.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
