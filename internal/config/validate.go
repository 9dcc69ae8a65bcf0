package config

import (
	"errors"
	"strings"

	"github.com/adhocore/gronx"
)

// Validate reports every invalid setting at once, joined with errors.Join.
func (c Config) Validate() error {
	return errors.Join(
		c.validateServer(),
		c.Store.validate(),
		c.Auth.validate(),
		c.Socket.validate(),
		c.validateLimits(),
		c.validateIdempotency(),
		c.OTEL.validate(),
	)
}

// problems accumulates messages for one section.
type problems []error

func (p *problems) add(cond bool, msg string) {
	if cond {
		*p = append(*p, errors.New(msg))
	}
}

func (p problems) err() error { return errors.Join(p...) }

func (c Config) validateServer() error {
	var p problems
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		p.add(true, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	p.add(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	p.add(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	p.add(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	return p.err()
}

func (s StoreConfig) validate() error {
	var p problems
	switch s.Driver {
	case "sqlite":
		p.add(strings.TrimSpace(s.Path) == "", "DB_PATH must not be empty")
	case "postgres":
		p.add(strings.TrimSpace(s.DSN) == "", "DB_DSN must be set when DB_DRIVER=postgres")
	default:
		p.add(true, "DB_DRIVER must be one of: sqlite, postgres")
	}
	p.add(s.MaxOpenConns < 0, "DB_MAX_OPEN_CONNS must be >= 0")
	p.add(s.SlowQuery < 0, "DB_SLOW_QUERY must be >= 0")
	return p.err()
}

func (a AuthConfig) validate() error {
	var p problems
	p.add(a.Enabled && len(a.JWTSecret) < 16, "JWT_SECRET must be at least 16 bytes when AUTH_ENABLED")
	p.add(a.TokenTTL <= 0, "TOKEN_TTL must be > 0")
	return p.err()
}

func (s SocketConfig) validate() error {
	var p problems
	p.add(s.ReadLimit <= 0 || s.SendBuffer <= 0 || s.RelayQueue <= 0,
		"WS_READ_LIMIT, WS_SEND_BUFFER and RELAY_QUEUE_SIZE must be > 0")
	p.add(s.PongWait <= 0 || s.WriteWait <= 0 || s.SendTimeout <= 0,
		"socket timeouts must be positive durations")
	p.add(s.InboundRPS <= 0 || s.InboundBurst < 1, "WS_INBOUND_RPS must be > 0 and WS_INBOUND_BURST >= 1")
	return p.err()
}

func (c Config) validateLimits() error {
	var p problems
	p.add(c.RateRPS < 0, "RATE_RPS must be >= 0")
	p.add(c.RateBurst < 1, "RATE_BURST must be >= 1")
	p.add(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	return p.err()
}

func (c Config) validateIdempotency() error {
	var p problems
	p.add(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	p.add(c.IdempotencyPurgeCron != "" && !gronx.IsValid(c.IdempotencyPurgeCron),
		"IDEMPOTENCY_PURGE_CRON is not a valid cron expression")
	return p.err()
}

func (o OTELConfig) validate() error {
	var p problems
	p.add(o.SampleRatio < 0 || o.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return p.err()
}
