// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, compression,
// metrics, CORS, security headers, idempotency, rate limiting and bearer
// authentication, and mounts the WebSocket upgrade next to the REST API.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/docs"
	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/handlers"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// groupRepoShim adapts the repository free functions to the services.GroupRepo
// interface expected by the GroupService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type groupRepoShim struct{}

// CreateGroup proxies repo.CreateGroup.
func (groupRepoShim) CreateGroup(ctx context.Context, db *gorm.DB, name, createdBy string, memberIDs []string) (*domain.Group, error) {
	return repo.CreateGroup(ctx, db, name, createdBy, memberIDs)
}

// GetGroup proxies repo.GetGroup.
func (groupRepoShim) GetGroup(ctx context.Context, db *gorm.DB, id string, withMembers bool) (*domain.Group, error) {
	return repo.GetGroup(ctx, db, id, withMembers)
}

// ListGroupsForUser proxies repo.ListGroupsForUser.
func (groupRepoShim) ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error) {
	return repo.ListGroupsForUser(ctx, db, userID)
}

// Realtime carries the socket side of the server into the router: the relay
// used for REST sends, the presence registry behind /users/online, and the
// WebSocket upgrade handler. Any field may be nil in tests.
type Realtime struct {
	Relay    services.Relay
	Presence *presence.Registry
	Socket   gin.HandlerFunc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, the
// socket upgrade, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip (never on the socket upgrade or /metrics)
//  7. Metrics
//  8. Bearer identification (no rejection yet)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. CORS and Security headers
//  12. Bearer enforcement on the API group
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rt Realtime, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
			"Sec-WebSocket-Protocol", // browsers sometimes smuggle tokens here
		},
		SocketPaths: []string{socketPath(cfg)},
		QuietPaths:  []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Response compression; the upgrade must see the raw writer to hijack it
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{socketPath(cfg), "/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(socketPath(cfg)))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Dependency injection: services ← repo/db/relay
	var tokens *auth.Tokens
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokens(cfg.Auth)
	}
	userSvc := services.NewUserService(db, nil, rt.Presence)
	if tokens != nil {
		userSvc.Tokens = tokens
	}
	msgSvc := services.NewMessageService(db, rt.Relay, cfg.IdempotencyTTL)
	groupSvc := services.NewGroupService(db, groupRepoShim{})
	h := handlers.New(userSvc, msgSvc, groupSvc)

	// 8) Identify the caller so idempotency and rate limiting can key on it
	if tokens != nil {
		r.Use(middleware.Authenticate(tokens))
	}

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		msgSvc.HasSend,
	))

	// 10) Token-bucket rate limiter per user/IP; sockets limit per frame instead
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(),
		socketPath(cfg), "/health", "/metrics", "/swagger")
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					hdr := c.Writer.Header()
					hdr.Set("Access-Control-Allow-Origin", origin)
					hdr.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{path.Join(cfg.APIBasePath, "/auth")},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Real-time socket
	if rt.Socket != nil {
		r.GET(socketPath(cfg), rt.Socket)
	}

	// API docs (opt-in)
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Accounts
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
	}

	// 12) Optional when auth is off: a presented token is still verified.
	secured := api.Group("")
	if tokens != nil {
		secured.Use(middleware.RequireAuth(cfg.Auth.Enabled))
	}
	{
		// Users
		secured.GET("/users", h.ListUsers)
		secured.GET("/users/search", h.SearchUsers)
		secured.GET("/users/online", h.OnlineUsers)
		secured.POST("/users/bulk", h.BulkUsers)
		secured.GET("/users/:id", h.GetUser)
		secured.GET("/users/:id/chat-partners", h.ChatPartners)

		// Messages
		secured.GET("/messages/group/:groupId", h.GroupHistory)
		secured.GET("/messages/unread-count/:userId", h.UnreadCounts)
		secured.GET("/messages/:userId/:peerId", h.ConversationHistory)
		secured.PATCH("/messages/mark-read", h.MarkRead)
		secured.POST("/messages/send", h.SendMessage)

		// Groups
		secured.POST("/groups", h.CreateGroup)
		secured.GET("/groups", h.ListGroups)
		secured.GET("/groups/:id", h.GetGroup)
	}
}

// socketPath returns the configured upgrade route, defaulting to /ws.
func socketPath(cfg config.Config) string {
	if cfg.Socket.Path == "" || cfg.Socket.Path == "/" {
		return "/ws"
	}
	return cfg.Socket.Path
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
