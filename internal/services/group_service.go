// Package services – GroupService
//
// This file implements GroupService, which manages named groups of users that
// share a message stream. It normalizes group names, de-duplicates members
// (the creator is always included) and checks that every member exists before
// delegating to the repository.
//
// Service-level errors (e.g., ErrGroupNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// GroupRepo defines the repository contract required by GroupService.
type GroupRepo interface {
	// CreateGroup inserts a group and its member rows atomically.
	CreateGroup(ctx context.Context, db *gorm.DB, name, createdBy string, memberIDs []string) (*domain.Group, error)

	// GetGroup fetches a group, optionally preloading its members.
	GetGroup(ctx context.Context, db *gorm.DB, id string, withMembers bool) (*domain.Group, error)

	// ListGroupsForUser returns the groups userID belongs to.
	ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error)
}

// GroupService provides group creation and lookup.
type GroupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the group repository used by this service.
	Repo GroupRepo

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
	// MaxMembers caps the member list, creator included.
	MaxMembers int
}

// NewGroupService constructs a GroupService with default limits.
func NewGroupService(db *gorm.DB, r GroupRepo) *GroupService {
	return &GroupService{
		DB:         db,
		Repo:       r,
		NameMaxLen: 60,
		MaxMembers: 256,
	}
}

// Create makes a group owned by creatorID. The creator is added to the
// members; blanks and repeats are dropped. Unknown member IDs fail with
// ErrUserNotFound.
func (s *GroupService) Create(ctx context.Context, creatorID, name string, memberIDs []string) (*domain.Group, error) {
	name = normalizeTitle(name)
	if name == "" {
		name = "New group"
	}

	members := lo.Uniq(lo.Compact(append([]string{creatorID}, lo.Map(memberIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})...)))
	if len(members) < 2 {
		return nil, ErrTooFewMembers
	}
	if s.MaxMembers > 0 && len(members) > s.MaxMembers {
		members = members[:s.MaxMembers]
	}

	known, err := repo.UsersByIDs(ctx, s.DB, members)
	if err != nil {
		return nil, err
	}
	if len(known) != len(members) {
		return nil, ErrUserNotFound
	}

	return s.Repo.CreateGroup(ctx, s.DB, s.clip(name), creatorID, members)
}

// Get returns a group with its members. When callerID is set the caller must
// be a member.
func (s *GroupService) Get(ctx context.Context, callerID, groupID string) (*domain.Group, error) {
	g, err := s.Repo.GetGroup(ctx, s.DB, groupID, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if callerID != "" && !lo.ContainsBy(g.Members, func(u domain.User) bool { return u.ID == callerID }) {
		return nil, ErrForbidden
	}
	return g, nil
}

// ListForUser returns the groups userID belongs to.
func (s *GroupService) ListForUser(ctx context.Context, userID string) ([]domain.Group, error) {
	return s.Repo.ListGroupsForUser(ctx, s.DB, userID)
}

// clip truncates a group name to the configured maximum rune length.
func (s *GroupService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
