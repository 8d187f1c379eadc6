// Command standalone runs the reminder service in one process with in-memory
// stores. A demo task is created whose reminder fires shortly after start and
// is delivered to an ntfy topic.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/ecociel/remind/api"
	"github.com/ecociel/remind/domain"
	"github.com/ecociel/remind/gateway/ntfy"
	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/lib/token"
	"github.com/ecociel/remind/lib/worker"
	"github.com/ecociel/remind/metrics"
	"github.com/ecociel/remind/repos/memory"
	"github.com/ecociel/remind/uc"
)

type Config struct {
	ListenAddr    string        `default:"localhost:8080" split_words:"true"`
	PublicBaseUrl string        `default:"http://localhost:8080" split_words:"true"`
	NtfyServer    string        `default:"https://ntfy.sh" split_words:"true"`
	NtfyTopic     string        `required:"true" split_words:"true"`
	DemoDelay     time.Duration `default:"10s" split_words:"true"`
}

func main() {
	var cfg Config
	envconfig.MustProcess("", &cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		logger.Error("generate secret", "error", err)
		os.Exit(1)
	}
	tokens, err := token.New(secret)
	if err != nil {
		logger.Error("token authority", "error", err)
		os.Exit(1)
	}

	repo := memory.New()
	jobs := queue.NewMemory()

	dispatcher := uc.NewDispatcher(repo, repo, repo, tokens, uc.DispatchConfig{BaseURL: cfg.PublicBaseUrl}, metrics.Nop{}, logger)
	dispatcher.RegisterChannel(domain.ChannelNtfy, ntfy.New(cfg.NtfyServer, &http.Client{Timeout: 10 * time.Second}))

	wcfg := worker.DefaultConfig()
	wcfg.Retry = queue.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	wrk := worker.New(jobs, wcfg, metrics.Nop{}, logger)
	wrk.RegisterHandler(uc.QueueReminders, dispatcher.Handle)

	if err := seedDemo(ctx, repo, jobs, cfg, logger); err != nil {
		logger.Error("seed demo task", "error", err)
		os.Exit(1)
	}

	callbacks := api.NewCallbackHandler(tokens, repo,
		uc.MakeRescheduleUseCase(repo, jobs, time.Now, logger),
		uc.MakeDismissUseCase(repo, repo, jobs, logger),
		logger)
	container := restful.NewContainer()
	container.Add(callbacks.WebService())
	container.Add(api.HealthService())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: container, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		wrk.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("standalone stopped", "error", err)
		os.Exit(1)
	}
}

func seedDemo(ctx context.Context, repo *memory.Repo, jobs *queue.Memory, cfg Config, logger *slog.Logger) error {
	due := time.Now().Add(cfg.DemoDelay)
	task := domain.Task{ID: "demo-task", OwnerID: "demo", Title: "Try the snooze button", DueDate: &due}
	if err := repo.SaveTask(ctx, task); err != nil {
		return err
	}
	sub := domain.Subscription{ID: "demo-ntfy", OwnerID: "demo", Kind: domain.ChannelNtfy, Topic: cfg.NtfyTopic, Active: true}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	if err := uc.MakeSyncTaskUseCase(repo, repo, jobs, time.Now, logger)(ctx, task.ID); err != nil {
		return err
	}
	logger.Info("demo reminder scheduled", "task_id", task.ID, "trigger_at", due, "ntfy_topic", cfg.NtfyTopic)
	return nil
}
