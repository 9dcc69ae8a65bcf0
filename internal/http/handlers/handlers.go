// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the service contracts the handlers depend on, the Handlers
// wiring type, caller identity helpers, pagination, and the mapping from
// service errors to HTTP responses.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
	"github.com/tbourn/go-dm-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService defines account and user lookup operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type UserService interface {
	Register(ctx context.Context, username, name, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*services.Session, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Search(ctx context.Context, query, callerID string) ([]domain.User, error)
	Bulk(ctx context.Context, ids []string) ([]services.UserRef, error)
	ChatPartners(ctx context.Context, userID string) ([]domain.User, error)
	// Online returns the IDs of users with a live socket.
	Online() []string
}

// MessageService defines history, receipt and send operations.
type MessageService interface {
	History(ctx context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error)
	HistoryETag(ctx context.Context, a, b string) (string, error)
	GroupHistory(ctx context.Context, groupID string, page, pageSize int) ([]domain.Message, int64, error)
	GroupHistoryETag(ctx context.Context, groupID string) (string, error)
	UnreadCounts(ctx context.Context, receiverID string) ([]domain.UnreadCount, error)
	MarkConversationRead(ctx context.Context, senderUsername, receiverUsername string) (int64, error)
	Send(ctx context.Context, in services.SendInput) (*domain.Message, bool, error)
}

// GroupService defines group lifecycle operations.
type GroupService interface {
	Create(ctx context.Context, creatorID, name string, memberIDs []string) (*domain.Group, error)
	Get(ctx context.Context, callerID, groupID string) (*domain.Group, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Group, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for auth, users, messages and groups.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	users  UserService
	msgSvc MessageService
	groups GroupService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(users UserService, msgSvc MessageService, groups GroupService) *Handlers {
	return &Handlers{users: users, msgSvc: msgSvc, groups: groups}
}

// principal returns the user id established by JWTAuth, or "" when the
// request is anonymous.
func principal(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// principalUsername returns the handle from the verified token, if any.
func principalUsername(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxUsername); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// userID extracts the caller id: the authenticated principal when present,
// otherwise the "X-User-ID" header (used when auth is disabled and by tests).
// It returns "" when neither is available and never touches c.Request if it's
// nil.
func userID(c *gin.Context) string {
	if p := principal(c); p != "" {
		return p
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader(middleware.HeaderUserID))
	}
	return ""
}

// allowSelf rejects a request about another user's private data when the
// caller is authenticated. Anonymous callers pass; the API group enforces
// authentication when it is enabled.
func allowSelf(c *gin.Context, subject string) bool {
	if p := principal(c); p != "" && p != subject {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed for this user")
		return false
	}
	return true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	w := utils.Window{Page: page, Size: pageSize}
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: w.TotalPages(total),
		HasNext:    w.HasNext(total),
	}
}

//
// Helpers
//

// clampPagination reads page and page_size from the query, bounded by
// utils.ParseWindow.
func clampPagination(c *gin.Context) (page, pageSize int) {
	w := utils.ParseWindow(c.Query("page"), c.Query("page_size"))
	return w.Page, w.Size
}

// notModified sets the ETag header and reports whether the client's
// If-None-Match already matches, in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-cache")
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// serviceError maps a service-layer error to an HTTP response. Unknown errors
// become 500 with the given fallback code.
func serviceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrGroupNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "group not found")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a member of this group")
	case errors.Is(err, services.ErrUsernameTaken):
		fail(c, http.StatusConflict, ErrCodeConflict, "username already taken")
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid username or password")
	case errors.Is(err, services.ErrAuthDisabled):
		fail(c, http.StatusNotImplemented, ErrCodeUnavailable, "authentication is not configured")
	case errors.Is(err, services.ErrRelayUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "message relay unavailable")
	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrMissingRecipient),
		errors.Is(err, services.ErrTooFewMembers),
		errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeUnavailable, "request timed out")
	default:
		failInternal(c, fallback, err)
	}
}

// idempotencyKey returns the key validated by the idempotency middleware,
// falling back to the raw header when the middleware is not installed.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

// sendTimeout bounds how long a REST send waits on the relay loop.
const sendTimeout = 10 * time.Second
