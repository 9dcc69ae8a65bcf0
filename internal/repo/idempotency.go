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

// ErrDuplicate indicates that a unique key already exists, e.g. a live
// idempotency record for the same SendKey or a taken username.
var ErrDuplicate = errors.New("duplicate")

// SendKey identifies one idempotent send: the caller, the route it was
// presented on and the client-supplied key.
type SendKey struct {
	UserID string
	Scope  string
	Key    string
}

func (k SendKey) usable() bool {
	return strings.TrimSpace(k.Scope) != "" && strings.TrimSpace(k.Key) != ""
}

func (k SendKey) where(db *gorm.DB) *gorm.DB {
	return db.Where("user_id = ? AND scope = ? AND key = ?", k.UserID, k.Scope, k.Key)
}

// LookupSend returns the record for k if it has not expired at now, or
// ErrNotFound.
func LookupSend(ctx context.Context, db *gorm.DB, k SendKey, now time.Time) (*domain.Idempotency, error) {
	if !k.usable() {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := k.where(db.WithContext(ctx)).Where("expires_at > ?", now).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordSend binds k to messageID until expiresAt. An expired record for the
// same key is replaced in the same transaction, so reuse does not have to wait
// for the purger. A live record yields ErrDuplicate.
func RecordSend(ctx context.Context, db *gorm.DB, k SendKey, messageID string, status int, expiresAt time.Time) (*domain.Idempotency, error) {
	if !k.usable() {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    k.UserID,
		Scope:     k.Scope,
		Key:       k.Key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: expiresAt.UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := k.where(tx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose ExpiresAt is at or before now
// and reports how many went.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
