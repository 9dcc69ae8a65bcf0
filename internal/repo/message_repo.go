// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateMessage inserts a new message row. ID and Timestamp are assigned when
// empty; delivery flags are always stored as false.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.IsDelivered, m.IsRead = false, false
	m.CreatedAt, m.UpdatedAt = now, now
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ErrNotRecipient rejects a receipt from a user the message was not sent to.
var ErrNotRecipient = errors.New("not a recipient of this message")

// checkRecipient returns ErrNotRecipient unless userID received m: the
// receiver of a direct message, or a group member other than the sender.
func checkRecipient(ctx context.Context, db *gorm.DB, m *domain.Message, userID string) error {
	if userID == "" {
		return ErrNotRecipient
	}
	if !m.IsGroup {
		if m.ReceiverID == nil || *m.ReceiverID != userID {
			return ErrNotRecipient
		}
		return nil
	}
	if m.GroupID == nil || userID == m.SenderID {
		return ErrNotRecipient
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.GroupMember{}).
		Where("group_id = ? AND user_id = ?", *m.GroupID, userID).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRecipient
	}
	return nil
}

// MarkDelivered flips is_delivered to true on behalf of recipientID and
// returns the updated row. Receipts from anyone but a recipient yield
// ErrNotRecipient and change nothing. Repeated calls are no-ops.
func MarkDelivered(ctx context.Context, db *gorm.DB, id, recipientID string) (*domain.Message, error) {
	return applyReceipt(ctx, db, id, recipientID, false)
}

// MarkRead sets both is_read and is_delivered so a read message is never
// left undelivered. Same recipient rule as MarkDelivered.
func MarkRead(ctx context.Context, db *gorm.DB, id, recipientID string) (*domain.Message, error) {
	return applyReceipt(ctx, db, id, recipientID, true)
}

func applyReceipt(ctx context.Context, db *gorm.DB, id, recipientID string, read bool) (*domain.Message, error) {
	m, err := GetMessage(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if err := checkRecipient(ctx, db, m, recipientID); err != nil {
		return nil, err
	}
	if m.IsDelivered && (m.IsRead || !read) {
		return m, nil
	}
	now := time.Now().UTC()
	fields := map[string]any{"is_delivered": true, "updated_at": now}
	if read {
		fields["is_read"] = true
	}
	if err := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return nil, err
	}
	m.IsDelivered, m.UpdatedAt = true, now
	if read {
		m.IsRead = true
	}
	return m, nil
}

// conversation scopes a query to direct messages exchanged between a and b.
func conversation(db *gorm.DB, a, b string) *gorm.DB {
	return db.Where("is_group = ?", false).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))", a, b, b, a)
}

// CountConversation counts direct messages between a and b.
func CountConversation(ctx context.Context, db *gorm.DB, a, b string) (int64, error) {
	var total int64
	err := conversation(db.WithContext(ctx).Model(&domain.Message{}), a, b).Count(&total).Error
	return total, err
}

// ListConversationPage returns a page of direct messages between a and b,
// ordered deterministically (Timestamp ASC, ID ASC).
func ListConversationPage(ctx context.Context, db *gorm.DB, a, b string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := conversation(db.WithContext(ctx), a, b).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountGroupMessages counts messages posted to a group.
func CountGroupMessages(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("group_id = ? AND is_group = ?", groupID, true).
		Count(&total).Error
	return total, err
}

// ListGroupMessagesPage returns a page of a group's messages (Timestamp ASC, ID ASC).
func ListGroupMessagesPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("group_id = ? AND is_group = ?", groupID, true).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UnreadCounts aggregates unread direct messages addressed to receiverID,
// one row per sender, largest count first.
func UnreadCounts(ctx context.Context, db *gorm.DB, receiverID string) ([]domain.UnreadCount, error) {
	out := []domain.UnreadCount{}
	err := db.WithContext(ctx).
		Table("messages AS m").
		Select("m.sender_id AS sender_id, COUNT(*) AS count, COALESCE(u.username, '') AS sender_username").
		Joins("LEFT JOIN users u ON u.id = m.sender_id").
		Where("m.receiver_id = ? AND m.is_read = ? AND m.is_group = ?", receiverID, false, false).
		Group("m.sender_id, u.username").
		Order("count DESC, sender_username ASC").
		Scan(&out).Error
	return out, err
}

// MarkConversationRead marks every unread message from senderID to
// receiverID as read and delivered, returning the number of rows changed.
func MarkConversationRead(ctx context.Context, db *gorm.DB, senderID, receiverID string) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Updates(map[string]any{"is_read": true, "is_delivered": true, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// IsNotFound reports whether err denotes a missing row.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
