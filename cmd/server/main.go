// Command server runs the direct-messaging backend: the REST API, the
// WebSocket relay and the idempotency purge job in one process.
//
//	@title						DM Backend API
//	@version					1.0
//	@description				Users, conversations, groups and real-time delivery.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	httpapi "github.com/tbourn/go-dm-backend/internal/http"
	"github.com/tbourn/go-dm-backend/internal/observability"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/relay"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/retention"
	"github.com/tbourn/go-dm-backend/internal/sysutil"
	"github.com/tbourn/go-dm-backend/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownGrace = 15 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	gin.SetMode(cfg.GinMode)
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version, "dev")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.Open(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// Relay and hub reference each other; the hub becomes the engine's
	// emitter before the loop starts.
	reg := presence.NewRegistry()
	engine := relay.NewEngine(relay.NewGormStore(db), reg, nil, cfg.Socket.RelayQueue)
	var authn ws.Authenticator
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret != "" {
		authn = auth.NewTokens(cfg.Auth)
	}
	hub := ws.NewHub(engine, authn, cfg.Socket, cfg.CORS.AllowedOrigins)
	engine.Out = hub

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		engine.Run(relayCtx)
	}()

	if cfg.IdempotencyPurgeCron != "" {
		purger, err := retention.New(db, cfg.IdempotencyPurgeCron)
		if err != nil {
			log.Fatal().Err(err).Msg("retention")
		}
		go purger.Run(ctx)
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Realtime{
		Relay:    engine,
		Presence: reg,
		Socket:   hub.Handler(),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", ver).
			Str("store", cfg.Store.Driver).
			Bool("auth", cfg.Auth.Enabled).
			Str("socket", cfg.Socket.Path).
			Str("ws_read_limit", sysutil.Bytes(cfg.Socket.ReadLimit)).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Int("sockets", hub.Len()).Int("online_users", reg.Len()).Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown; close them first so their
	// disconnects reach the relay before it stops.
	hub.Close()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stopRelay()
	select {
	case <-relayDone:
	case <-sctx.Done():
		log.Warn().Msg("relay did not drain in time")
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
