package redis

import "errors"

var (
	ErrMissingURL = errors.New("redis: REDIS_URL is empty")
	ErrInvalidURL = errors.New("redis: invalid connection URL")
	ErrNotReady   = errors.New("redis: server did not answer before the retry budget ran out")
	ErrPingFailed = errors.New("redis: ping failed")
)
