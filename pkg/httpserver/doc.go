// Package httpserver provides a small wrapper around net/http that adds
// graceful shutdown, configurable timeouts, health-check handlers and
// structured logging via slog.
//
// The core type is Server. It adds the following to a plain *http.Server:
//
//   - Graceful shutdown. Run blocks until the context is canceled, then calls
//     http.Server.Shutdown with ShutdownTimeout as the deadline. Signal
//     handling is left to the caller. cmd/entitlements cancels the context
//     with signal.NotifyContext.
//
//   - Functional options. New takes a Config plus Option values such as
//     WithLogger and WithListener. WithListener lets tests bind to an
//     ephemeral port.
//
//   - Health checks. LivenessHandler always answers 200. ReadinessHandler runs
//     every Check probe (Postgres, Redis). It answers 503 "NOT_READY" and
//     logs the failing check's name when any probe fails.
//
// # Architecture
//
// Run builds the *http.Server from Config when it is first called and serves
// it on a goroutine. Request contexts derive from the Run context without its
// cancellation, so in-flight requests finish during shutdown. A second Run on
// the same Server fails with ErrAlreadyRunning.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Get("/health/live", httpserver.LivenessHandler())
//	r.Get("/health/ready", httpserver.ReadinessHandler(log,
//		httpserver.Check{Name: "postgres", Probe: pg.Healthcheck(pool)},
//	))
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// # Configuration
//
//	HTTP_ADDR                 default :8080
//	HTTP_READ_HEADER_TIMEOUT  default 5s
//	HTTP_READ_TIMEOUT         default 15s
//	HTTP_WRITE_TIMEOUT        default 15s
//	HTTP_IDLE_TIMEOUT         default 120s
//	HTTP_SHUTDOWN_TIMEOUT     default 10s
//
// # Errors
//
// Run wraps listen errors with ErrStart and shutdown errors with ErrShutdown.
// Use errors.Is to tell them apart. A clean shutdown returns nil.
package httpserver
