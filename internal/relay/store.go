package relay

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

// GormStore implements Store on top of the repo package.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore returns a Store backed by db.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

func (s *GormStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	return repo.CreateMessage(ctx, s.DB, m)
}

func (s *GormStore) MarkDelivered(ctx context.Context, id, recipientID string) (*domain.Message, error) {
	m, err := repo.MarkDelivered(ctx, s.DB, id, recipientID)
	return m, receiptStoreError(err, recipientID)
}

func (s *GormStore) MarkRead(ctx context.Context, id, recipientID string) (*domain.Message, error) {
	m, err := repo.MarkRead(ctx, s.DB, id, recipientID)
	return m, receiptStoreError(err, recipientID)
}

func receiptStoreError(err error, recipientID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrMessageNotFound
	case errors.Is(err, repo.ErrNotRecipient):
		return fmt.Errorf("%w: %q did not receive it", ErrIdentityMismatch, recipientID)
	default:
		return err
	}
}

func (s *GormStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	ids, err := repo.GroupMemberIDs(ctx, s.DB, groupID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	return ids, err
}
