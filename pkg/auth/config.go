package auth

import "time"

// Config holds token verification settings.
type Config struct {
	Secret   string        `env:"JWT_SECRET"`
	Issuer   string        `env:"JWT_ISSUER"`
	Audience string        `env:"JWT_AUDIENCE"`
	Leeway   time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	TTL      time.Duration `env:"JWT_TTL" envDefault:"1h"`
}
