// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// ConversationStats returns aggregate metadata for the direct messages
// exchanged between a and b: the total number of rows and the maximum
// UpdatedAt timestamp among those rows.
//
// Because delivery and read receipts bump UpdatedAt, the pair changes
// whenever a history response would change. When the pair has no messages,
// the returned count is 0 and maxUpdatedAt is nil.
func ConversationStats(ctx context.Context, db *gorm.DB, a, b string) (count int64, maxUpdatedAt *time.Time, err error) {
	return statsOf(conversation(db.WithContext(ctx).Model(&domain.Message{}), a, b))
}

// GroupMessagesStats returns the same aggregate as ConversationStats for the
// messages of a single group.
func GroupMessagesStats(ctx context.Context, db *gorm.DB, groupID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return statsOf(db.WithContext(ctx).Model(&domain.Message{}).Where("group_id = ? AND is_group = ?", groupID, true))
}

func statsOf(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	// Count
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
