// Package redis provides helpers for connecting to a Redis server with the
// go-redis client (github.com/redis/go-redis/v9).
//
// The service keeps its webhook delivery ledger in Redis so every replica sees
// the same claims. This package only owns the connection:
//
//   - Connect parses the connection URL and pings the server, retrying until
//     it answers, RetryAttempts run out or ConnectTimeout elapses.
//   - Healthcheck wraps any redis.UniversalClient into a probe for the
//     readiness endpoint.
//
// Configuration is described by Config, whose fields are populated from
// environment variables via github.com/caarlos0/env/v11.
//
// # Usage
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	ledger := subscription.NewRedisLedger(client, "webhook:event:")
//	checks := []httpserver.Check{{Name: "redis", Probe: redis.Healthcheck(client)}}
//
// # Configuration
//
//	REDIS_URL              default redis://localhost:6379/0
//	REDIS_RETRY_ATTEMPTS   default 3
//	REDIS_RETRY_INTERVAL   delay between pings, default 5s
//	REDIS_CONNECT_TIMEOUT  overall budget for Connect, default 30s
//
// # Errors
//
// ErrMissingURL and ErrInvalidURL report bad configuration. ErrNotReady is
// returned when the server never answered, and ErrPingFailed when a health
// probe fails. The underlying go-redis error is joined with errors.Join, so
// both errors.Is and the original message survive.
//
// # See Also
//
//   - https://github.com/redis/go-redis for the underlying client
package redis
