package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/internal/api"
	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/events"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the service configuration. Driver-specific settings (PG_*,
// REDIS_*) are loaded on demand by the driver that needs them.
type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	Name      string `env:"APP_NAME" envDefault:"entitlements"`
	LogLevel  string `env:"APP_LOG_LEVEL"`
	LogFormat string `env:"APP_LOG_FORMAT"`

	StorageDriver     string `env:"STORAGE_DRIVER" envDefault:"memory"`
	AutoMigrate       bool   `env:"APP_AUTO_MIGRATE" envDefault:"false"`
	PlansFile         string `env:"PLANS_FILE"`
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
	ReconcileBatch    int    `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`

	WebhookLedgerTTL    time.Duration `env:"WEBHOOK_LEDGER_TTL" envDefault:"720h"`
	WebhookLedgerPrefix string        `env:"WEBHOOK_LEDGER_PREFIX" envDefault:"entitlements:webhook:"`

	API    api.Config
	HTTP   httpserver.Config
	Queue  queue.Config
	Paddle subscription.PaddleConfig
	Auth   auth.Config
	Events events.Config
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("%w: STORAGE_DRIVER %q", ErrInvalidConfig, c.StorageDriver)
	}
	if _, err := queue.Cron(c.ReconcileSchedule); err != nil {
		return fmt.Errorf("%w: RECONCILE_SCHEDULE: %w", ErrInvalidConfig, err)
	}
	if _, err := queue.Cron(c.Queue.PurgeSchedule); err != nil {
		return fmt.Errorf("%w: QUEUE_PURGE_SCHEDULE: %w", ErrInvalidConfig, err)
	}
	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	switch logger.Format(c.LogFormat) {
	case "", logger.FormatJSON, logger.FormatText:
	default:
		return fmt.Errorf("%w: APP_LOG_FORMAT %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: APP_LOG_LEVEL %q", ErrInvalidConfig, s)
	}
	return l, nil
}
