// Package services – UserService
//
// This file implements UserService: account registration and login, plus the
// read-side lookups the client needs to build its contact list (all users,
// username search, bulk id→name resolution, chat partners, online users).
// Usernames are case-folded once on the way in so lookups and the unique
// index agree regardless of how the user typed them.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/auth"
	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID, username string) (token string, expiresAt time.Time, err error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// UserRef is the compact id/name projection returned by Bulk.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserService owns accounts and user lookups.
type UserService struct {
	DB       *gorm.DB
	Tokens   TokenIssuer // nil disables Login
	Presence *presence.Registry

	// SearchLimit caps search results. Values <= 0 mean 50.
	SearchLimit int
	// BulkLimit caps the number of IDs resolved by Bulk. Values <= 0 mean 200.
	BulkLimit int
}

// NewUserService constructs a UserService with default limits.
func NewUserService(db *gorm.DB, tokens TokenIssuer, reg *presence.Registry) *UserService {
	return &UserService{DB: db, Tokens: tokens, Presence: reg, SearchLimit: 50, BulkLimit: 200}
}

// normalizeUsername trims and case-folds a handle. Casers are stateful, so
// one is built per call.
func normalizeUsername(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Register creates an account. The password is stored as an argon2id hash.
func (s *UserService) Register(ctx context.Context, username, name, password string) (*domain.User, error) {
	username = normalizeUsername(username)
	if err := auth.ValidateCredentials(auth.Credentials{Username: username, Password: password}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	name = normalizeTitle(name)
	if name == "" {
		name = username
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u, err := repo.CreateUser(ctx, s.DB, username, s.clipName(name), hash)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	return u, err
}

func (s *UserService) clipName(name string) string {
	const maxNameRunes = 128
	if r := []rune(name); len(r) > maxNameRunes {
		return string(r[:maxNameRunes])
	}
	return name
}

// Login verifies credentials and issues a session token.
func (s *UserService) Login(ctx context.Context, username, password string) (*Session, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	if s.Tokens == nil {
		return nil, ErrAuthDisabled
	}
	u, err := repo.GetUserByUsername(ctx, s.DB, normalizeUsername(username))
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	match, err := auth.ComparePassword(password, u.PasswordHash)
	if err != nil || !match {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	tok, exp, err := s.Tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// List returns every user ordered by username.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return repo.ListUsers(ctx, s.DB)
}

// Search matches usernames containing query, case-insensitively, leaving out
// the caller. An empty query yields an empty result.
func (s *UserService) Search(ctx context.Context, query, callerID string) ([]domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(attribute.String("user.id", callerID)),
	)
	defer span.End()

	query = normalizeUsername(query)
	if query == "" {
		return []domain.User{}, nil
	}
	limit := s.SearchLimit
	if limit <= 0 {
		limit = 50
	}
	return repo.SearchUsers(ctx, s.DB, query, callerID, limit)
}

// Bulk resolves IDs to id/name pairs. Blank and repeated IDs are ignored, as
// are IDs that match no user.
func (s *UserService) Bulk(ctx context.Context, ids []string) ([]UserRef, error) {
	ids = lo.Uniq(lo.Compact(lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) })))
	limit := s.BulkLimit
	if limit <= 0 {
		limit = 200
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	users, err := repo.UsersByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(u domain.User, _ int) UserRef {
		return UserRef{ID: u.ID, Name: u.Name}
	}), nil
}

// ChatPartners returns the users userID has exchanged direct messages with.
func (s *UserService) ChatPartners(ctx context.Context, userID string) ([]domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "ChatPartners",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	ids, err := repo.ChatPartnerIDs(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("partners", len(ids)))
	users, err := repo.UsersByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	if s.Presence != nil {
		for i := range users {
			users[i].Online = s.Presence.IsOnline(users[i].ID)
		}
	}
	return users, nil
}

// Online returns the IDs of users with a live socket, sorted.
func (s *UserService) Online() []string {
	if s.Presence == nil {
		return []string{}
	}
	return s.Presence.Online()
}
