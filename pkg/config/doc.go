// Package config provides a type-safe, generic and cached way to load
// configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11 and:
//
//   - reads dotenv files once before the first parse (".env" unless
//     UseEnvFiles says otherwise; missing files are ignored),
//   - parses the environment into any struct using `env` and `envDefault`
//     field tags,
//   - caches each config type so it is parsed once per process.
//
// Every component declares its own Config next to the code that uses it
// (pg.Config, redis.Config, httpserver.Config, queue.Config, api.Config and so
// on). The application loads each one with Load.
//
// # Architecture
//
// The cache is a sync.Map keyed by the fully qualified type name. Each entry
// holds a sync.Once, so concurrent first loads of one type parse the
// environment exactly once. Failed parses are cached as well, so a broken
// environment fails the same way for every caller.
//
// # Usage
//
//	type Config struct {
//		Schedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
//		Batch    int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
//		TTL      time.Duration `env:"WEBHOOK_LEDGER_TTL" envDefault:"720h"`
//	}
//
//	config.UseEnvFiles(".env", ".env.local") // optional, before the first Load
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return fmt.Errorf("load config: %w", err)
//	}
//
// Later calls to Load with the same type return a copy of the cached value.
// MustLoad panics instead of returning an error, for wiring that cannot
// proceed without configuration.
//
// # Error Handling
//
// Errors can be matched with errors.Is:
//
//	ErrParsingConfig    the environment could not be parsed into the struct
//	ErrConfigNotLoaded  the cache held no value for the type
//	ErrNilPointer       Load was given a nil pointer
//
// # Testing Helpers
//
// Reset clears the cache. Tests that change the environment with t.Setenv call
// it before Load and must not run in parallel.
//
// # See Also
//
//   - https://github.com/joho/godotenv
//   - https://github.com/caarlos0/env
package config
