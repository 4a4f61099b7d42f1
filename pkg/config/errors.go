package config

import "errors"

var (
	// ErrParsingConfig is returned when the environment does not satisfy the struct tags.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	// ErrConfigNotLoaded is returned when a cached entry holds no value.
	ErrConfigNotLoaded = errors.New("configuration has not been loaded")
	// ErrNilPointer is returned when Load receives a nil pointer.
	ErrNilPointer = errors.New("nil pointer provided to config loader")
)
