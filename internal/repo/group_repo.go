// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for groups and
// their membership rows.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateGroup inserts a group and one membership row per member ID inside a
// single transaction. Callers pass de-duplicated, existing user IDs.
func CreateGroup(ctx context.Context, db *gorm.DB, name, createdBy string, memberIDs []string) (*domain.Group, error) {
	now := time.Now().UTC()
	g := &domain.Group{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(g).Error; err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return nil
		}
		rows := make([]domain.GroupMember, 0, len(memberIDs))
		for _, id := range memberIDs {
			rows = append(rows, domain.GroupMember{GroupID: g.ID, UserID: id, CreatedAt: now})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup fetches a group by ID, preloading members when withMembers is set.
func GetGroup(ctx context.Context, db *gorm.DB, id string, withMembers bool) (*domain.Group, error) {
	q := db.WithContext(ctx)
	if withMembers {
		q = q.Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("users.username ASC") })
	}
	var g domain.Group
	if err := q.Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupMemberIDs returns the member user IDs of a group. A missing group is
// reported as ErrNotFound rather than an empty list.
func GroupMemberIDs(ctx context.Context, db *gorm.DB, groupID string) ([]string, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Group{}).Where("id = ?", groupID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	ids := []string{}
	err := db.WithContext(ctx).Model(&domain.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListGroupsForUser returns the groups userID belongs to, newest first.
func ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Group, error) {
	var out []domain.Group
	err := db.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = chat_groups.id").
		Where("gm.user_id = ?", userID).
		Order("chat_groups.created_at DESC, chat_groups.id ASC").
		Find(&out).Error
	return out, err
}
