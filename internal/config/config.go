// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, authentication, socket tuning, rate limiting, and
// observability settings.
package config

import (
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings. The same
// allowlist is applied to the WebSocket upgrade Origin check.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-dm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects the GORM dialect, its connection target and pool.
type StoreConfig struct {
	Driver       string        // sqlite|postgres
	Path         string        // SQLite file path
	DSN          string        // Postgres DSN
	MaxOpenConns int           // 0 picks a per-driver default
	SlowQuery    time.Duration // queries slower than this log at warn; 0 disables
}

// AuthConfig controls bearer-token verification on the API and socket.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// SocketConfig tunes the WebSocket transport.
type SocketConfig struct {
	Path         string        // upgrade route, e.g. "/ws"
	ReadLimit    int64         // max inbound frame size in bytes
	PongWait     time.Duration // read deadline extended on every pong
	WriteWait    time.Duration // per-frame write deadline
	SendBuffer   int           // per-connection outbound queue length
	SendTimeout  time.Duration // how long a full queue may stall before the client is kicked
	InboundRPS   float64       // per-connection inbound event rate
	InboundBurst int
	RelayQueue   int // relay run-loop inbox size
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Store  StoreConfig
	Auth   AuthConfig
	Socket SocketConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL       time.Duration // how long a given Idempotency-Key is valid
	IdempotencyPurgeCron string        // cron schedule for dropping expired keys; empty disables

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults and
// normalizes values. The returned error joins every validation failure.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "6060"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Store: StoreConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			DSN:    getenv("DB_DSN", ""),

			MaxOpenConns: getint("DB_MAX_OPEN_CONNS", 0),
			SlowQuery:    getdur("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			Enabled:   getbool("AUTH_ENABLED", false),
			JWTSecret: getenv("JWT_SECRET", ""),
			Issuer:    getenv("JWT_ISSUER", "go-dm-backend"),
			TokenTTL:  getdur("TOKEN_TTL", 24*time.Hour),
		},
		Socket: SocketConfig{
			Path:         normalizeBasePath(getenv("WS_PATH", "/ws")),
			ReadLimit:    int64(getint("WS_READ_LIMIT", 64*1024)),
			PongWait:     getdur("WS_PONG_WAIT", 20*time.Second),
			WriteWait:    getdur("WS_WRITE_WAIT", 10*time.Second),
			SendBuffer:   getint("WS_SEND_BUFFER", 256),
			SendTimeout:  getdur("WS_SEND_TIMEOUT", 2*time.Second),
			InboundRPS:   getfloat("WS_INBOUND_RPS", 20),
			InboundBurst: getint("WS_INBOUND_BURST", 40),
			RelayQueue:   getint("RELAY_QUEUE_SIZE", 4096),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL:       getdur("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyPurgeCron: strings.TrimSpace(getenv("IDEMPOTENCY_PURGE_CRON", "*/15 * * * *")),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-dm-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.Store.Driver {
	case "postgresql", "pg":
		c.Store.Driver = "postgres"
	case "sqlite3":
		c.Store.Driver = "sqlite"
	}
}

