package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/internal/db/migrations"
	"github.com/dmitrymomot/entitlements/internal/repository"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/pg"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/redis"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// taskStorage is everything the queue needs from a storage driver.
type taskStorage interface {
	queue.EnqueuerRepository
	queue.WorkerRepository
	queue.SchedulerRepository
	DeleteCompleted(ctx context.Context, cutoff time.Time) (int64, error)
	ListDead(ctx context.Context, limit int) ([]queue.DeadTask, error)
}

type recordStore interface {
	subscription.Store
	subscription.HistoryReader
}

// storage is one storage driver: subscription records, the webhook ledger
// and the task queue.
type storage struct {
	records recordStore
	ledger  subscription.EventLedger
	tasks   taskStorage
	checks  []httpserver.Check
	closers []func() error
}

func (s *storage) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg Config, log *slog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case DriverPostgres:
		return openPostgres(ctx, cfg, log)
	default:
		log.WarnContext(ctx, "using in-memory storage, state is lost on restart")
		return &storage{
			records: subscription.NewMemoryStore(),
			ledger:  subscription.NewMemoryLedger(),
			tasks:   queue.NewMemoryStorage(),
		}, nil
	}
}

func openPostgres(ctx context.Context, cfg Config, log *slog.Logger) (*storage, error) {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, fmt.Errorf("load postgres config: %w", err)
	}
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return nil, fmt.Errorf("load redis config: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	s := &storage{closers: []func() error{func() error { pool.Close(); return nil }}}

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
			_ = s.close()
			return nil, err
		}
	}

	rdb, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.closers = append(s.closers, rdb.Close)

	s.records = repository.NewSubscriptionRepository(pool)
	s.tasks = repository.NewTaskRepository(pool)
	s.ledger = subscription.NewRedisLedger(rdb, cfg.WebhookLedgerPrefix)
	s.checks = []httpserver.Check{
		{Name: "postgres", Probe: pg.Healthcheck(pool)},
		{Name: "redis", Probe: redis.Healthcheck(rdb)},
	}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, log *slog.Logger) error {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return fmt.Errorf("load postgres config: %w", err)
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pg.Migrate(ctx, pool, migrations.FS, pgCfg, log)
}
