package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ecociel/remind/lib/queue"
	"github.com/ecociel/remind/lib/worker"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DbConnectionUri string `required:"true" split_words:"true" validate:"required"`
	ListenAddr      string `default:":8080" split_words:"true" validate:"required"`
	PublicBaseUrl   string `required:"true" split_words:"true" validate:"required,url"`
	CallbackSecret  string `required:"true" split_words:"true" validate:"min=32"`

	QueueHostPorts  []string `split_words:"true"`
	KafkaTopic      string   `default:"reminders.notifications" split_words:"true"`
	TaskEventsTopic string   `default:"tasks.changed" split_words:"true"`
	TaskEventsGroup string   `default:"reminder-service" split_words:"true"`

	PollInterval  time.Duration `default:"1s" split_words:"true" validate:"gt=0"`
	ClaimLimit    int           `default:"100" split_words:"true" validate:"min=1"`
	LeaseDuration time.Duration `default:"5m" split_words:"true" validate:"gt=0"`
	MaxAttempts   int           `default:"8" split_words:"true" validate:"min=1"`
	BackoffBase   time.Duration `default:"30s" split_words:"true" validate:"gt=0"`
	BackoffMax    time.Duration `default:"10m" split_words:"true" validate:"gtefield=BackoffBase"`

	SnoozeMinutes   int           `default:"15" split_words:"true" validate:"min=1"`
	DeliveryTimeout time.Duration `default:"10s" split_words:"true" validate:"gt=0"`

	NtfyServer      string `default:"https://ntfy.sh" split_words:"true" validate:"omitempty,url"`
	VapidPublicKey  string `split_words:"true" validate:"required_with=VapidPrivateKey"`
	VapidPrivateKey string `split_words:"true" validate:"required_with=VapidPublicKey"`
	VapidSubscriber string `default:"mailto:ops@example.com" split_words:"true"`

	LogLevel string `default:"info" split_words:"true"`
}

// LoadConfig reads the configuration from the environment variables prefixed
// with prefix and validates it.
func LoadConfig(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return Config{}, fmt.Errorf("invalid config: %s failed on '%s'", errs[0].Field(), errs[0].Tag())
		}
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Worker() worker.Config {
	return worker.Config{
		Limit:    c.ClaimLimit,
		Interval: c.PollInterval,
		Lease:    c.LeaseDuration,
		Retry: queue.RetryPolicy{
			MaxAttempts: c.MaxAttempts,
			BaseDelay:   c.BackoffBase,
			MaxDelay:    c.BackoffMax,
		},
	}
}

func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(strings.TrimSpace(level)))
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	if err != nil {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}
