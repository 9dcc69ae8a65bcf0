// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - A second account with the same username surfaces as ErrDuplicate.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a new account. The username is expected to be
// normalized by the caller.
func CreateUser(ctx context.Context, db *gorm.DB, username, name, passwordHash string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by exact (already folded) username.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user ordered by username.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).Order("username ASC").Find(&out).Error
	return out, err
}

// SearchUsers returns users whose username contains query (case-insensitive),
// excluding excludeID. LIKE wildcards in query are escaped.
func SearchUsers(ctx context.Context, db *gorm.DB, query, excludeID string, limit int) ([]domain.User, error) {
	var out []domain.User
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := db.WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '\\'", pattern).
		Where("id <> ?", excludeID).
		Order("username ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// UsersByIDs returns the users whose IDs are listed. Unknown IDs are skipped.
func UsersByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	var out []domain.User
	err := db.WithContext(ctx).Where("id IN ?", ids).Order("username ASC").Find(&out).Error
	return out, err
}

// ChatPartnerIDs returns the distinct user IDs that exchanged direct messages
// with userID, in either direction.
func ChatPartnerIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var sent, received []string
	if err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("sender_id = ? AND is_group = ? AND receiver_id IS NOT NULL", userID, false).
		Distinct().Pluck("receiver_id", &sent).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("receiver_id = ? AND is_group = ?", userID, false).
		Distinct().Pluck("sender_id", &received).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(sent)+len(received))
	out := make([]string, 0, len(sent)+len(received))
	for _, id := range append(sent, received...) {
		if id == userID || id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// isUniqueViolation matches unique-constraint errors across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
