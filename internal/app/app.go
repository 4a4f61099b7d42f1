// Package app wires the entitlement service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/entitlements/internal/api"
	"github.com/dmitrymomot/entitlements/internal/jobs"
	"github.com/dmitrymomot/entitlements/internal/telemetry"
	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/events"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/queue"
	"github.com/dmitrymomot/entitlements/pkg/requestid"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// NewLogger builds the service logger. APP_ENV picks the defaults;
// APP_LOG_LEVEL and APP_LOG_FORMAT override them when set.
func NewLogger(cfg Config) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(requestid.LoggerExtractor(), auth.LoggerExtractor()),
	}
	if level, err := parseLevel(cfg.LogLevel); cfg.LogLevel != "" && err == nil {
		opts = append(opts, logger.WithLevel(level))
	}
	if cfg.LogFormat != "" {
		opts = append(opts, logger.WithFormat(logger.Format(cfg.LogFormat)))
	}
	return logger.New(opts...)
}

// App holds the long-lived components of the service.
type App struct {
	cfg       Config
	log       *slog.Logger
	storage   *storage
	metrics   *telemetry.Metrics
	publisher events.Publisher

	Controller *subscription.Controller
	Reconciler *subscription.Reconciler
}

// New opens storage and builds the subscription core. Close releases it.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	catalog := subscription.DefaultCatalog()
	if cfg.PlansFile != "" {
		c, err := subscription.LoadCatalogFile(cfg.PlansFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.Events, log.With(logger.Component("events")))
		if err != nil {
			_ = st.close()
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		publisher = p
	}

	metrics := telemetry.New()
	ctrl := subscription.NewController(st.records, catalog,
		subscription.WithLogger(log.With(logger.Component("subscription"))),
		subscription.WithLedger(st.ledger, cfg.WebhookLedgerTTL),
		subscription.WithObserver(metrics),
		subscription.WithChangeHook(events.ChangeHook(publisher, log)),
	)
	rec := subscription.NewReconciler(st.records, ctrl,
		subscription.WithBatchSize(cfg.ReconcileBatch),
		subscription.WithReconcilerLogger(log.With(logger.Component("reconciler"))),
	)

	return &App{
		cfg:        cfg,
		log:        log,
		storage:    st,
		metrics:    metrics,
		publisher:  publisher,
		Controller: ctrl,
		Reconciler: rec,
	}, nil
}

// DeadTasks lists tasks that exhausted their retries, most recent first.
func (a *App) DeadTasks(ctx context.Context, limit int) ([]queue.DeadTask, error) {
	return a.storage.tasks.ListDead(ctx, limit)
}

// Serve runs the HTTP API, the queue worker and the scheduler until ctx is
// done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	verifier, err := auth.NewVerifier(a.cfg.Auth)
	if err != nil {
		return fmt.Errorf("configure token verifier: %w", err)
	}
	webhooks, err := subscription.NewPaddleProvider(a.cfg.Paddle, a.Controller.Catalog())
	if err != nil {
		return fmt.Errorf("configure webhook provider: %w", err)
	}
	enqueuer, err := queue.NewEnqueuer(a.storage.tasks)
	if err != nil {
		return err
	}

	worker, err := a.newWorker()
	if err != nil {
		return err
	}
	scheduler, err := a.newScheduler()
	if err != nil {
		return err
	}

	gate := entitlement.NewGate(a.storage.records,
		entitlement.WithLogger(a.log.With(logger.Component("gate"))),
		entitlement.WithStaleHook(jobs.StaleHook(enqueuer, a.log)),
		entitlement.WithDecisionObserver(a.metrics),
		entitlement.WithDeniedHandler(api.DeniedHandler),
	)
	router := api.NewRouter(a.cfg.API, api.Deps{
		Controller: a.Controller,
		History:    a.storage.records,
		Gate:       gate,
		Webhooks:   webhooks,
		Enqueuer:   enqueuer,
		Verifier:   verifier,
		Metrics:    a.metrics,
		Checks:     a.storage.checks,
		Logger:     a.log.With(logger.Component("api")),
	})
	server := httpserver.New(a.cfg.HTTP, httpserver.WithLogger(a.log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, router) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	a.log.InfoContext(ctx, "service started",
		slog.String("storage", a.cfg.StorageDriver),
		slog.String("reconcile_schedule", a.cfg.ReconcileSchedule))
	return g.Wait()
}

func (a *App) newWorker() (*queue.Worker, error) {
	q := a.cfg.Queue
	worker, err := queue.NewWorker(a.storage.tasks,
		queue.WithPullInterval(q.PollInterval),
		queue.WithLockTimeout(q.LockTimeout),
		queue.WithRetryBackoff(q.RetryBackoff),
		queue.WithMaxConcurrentTasks(q.MaxConcurrentTasks),
		queue.WithWorkerLogger(a.log.With(logger.Component("worker"))),
		queue.WithTaskObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	handlers := append(jobs.Handlers(a.Controller, a.Reconciler),
		jobs.PurgeHandler(a.storage.tasks, q.TaskRetention, a.log))
	if err := worker.RegisterHandlers(handlers...); err != nil {
		return nil, err
	}
	return worker, nil
}

func (a *App) newScheduler() (*queue.Scheduler, error) {
	scheduler, err := queue.NewScheduler(a.storage.tasks,
		queue.WithCheckInterval(a.cfg.Queue.SchedulerInterval),
		queue.WithSchedulerLogger(a.log.With(logger.Component("scheduler"))),
	)
	if err != nil {
		return nil, err
	}

	reconcile, err := queue.Cron(a.cfg.ReconcileSchedule)
	if err != nil {
		return nil, err
	}
	purge, err := queue.Cron(a.cfg.Queue.PurgeSchedule)
	if err != nil {
		return nil, err
	}
	if err := scheduler.AddTask(jobs.ReconcileSweepTask, reconcile, queue.WithTaskPriority(queue.PriorityMedium)); err != nil {
		return nil, err
	}
	if err := scheduler.AddTask(jobs.PurgeTasksTask, purge, queue.WithTaskPriority(queue.PriorityLow)); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// Close releases the publisher and storage connections.
func (a *App) Close() error {
	return errors.Join(a.publisher.Close(), a.storage.close())
}
