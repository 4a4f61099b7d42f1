// Package pg bootstraps PostgreSQL access on top of the pgx/v5 driver. It
// covers connection pooling, schema migrations, health checks and error
// classification so the service can bring up its system of record with a few
// calls.
//
// The API stays small and hands back plain upstream types (*pgxpool.Pool from
// github.com/jackc/pgx/v5, migrations from github.com/pressly/goose/v3), so
// repositories talk to pgx directly.
//
// # Architecture
//
// Three building blocks cooperate:
//
//   - Config holds pool limits, retry settings and the migrations table. Its
//     fields are populated from environment variables via
//     github.com/caarlos0/env/v11 (usually through pkg/config).
//
//   - Connect opens a *pgxpool.Pool and pings it. While the database is still
//     starting it retries RetryAttempts times, waiting RetryInterval, then
//     twice that, and so on.
//
//   - Migrate runs goose migrations from an fs.FS over the same pool. The pool
//     is bridged to database/sql for goose, and goose output is routed through
//     the supplied *slog.Logger. Concurrent calls in one process are
//     serialized.
//
// Healthcheck turns a pool into a probe for the readiness endpoint.
//
// # Usage
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
//
//	checks := []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(pool)}}
//
// # Configuration
//
//	PG_CONN_URL            connection string (required)
//	PG_MAX_OPEN_CONNS      pool size, default 10
//	PG_MIN_IDLE_CONNS      warm connections, default 2
//	PG_HEALTHCHECK_PERIOD  pool health check cadence, default 1m
//	PG_MAX_CONN_IDLE_TIME  default 10m
//	PG_MAX_CONN_LIFETIME   default 30m
//	PG_RETRY_ATTEMPTS      connect attempts, default 3
//	PG_RETRY_INTERVAL      base retry delay, default 5s
//	PG_MIGRATIONS_TABLE    goose version table, default schema_migrations
//
// # Error Handling
//
// Failures are joined with sentinel errors (ErrEmptyConnectionString,
// ErrFailedToOpenDBConnection, ErrFailedToApplyMigrations, ...) so callers can
// match them with errors.Is. IsNotFoundError, IsDuplicateKeyError and
// IsSerializationError classify driver errors, including *pgconn.PgError codes,
// inside repository code.
package pg
