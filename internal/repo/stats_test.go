package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestConversationStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t, false)
	if _, _, err := ConversationStats(context.Background(), db, "a", "b"); err == nil {
		t.Fatalf("expected error due to missing messages table")
	}
}

func TestConversationStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, true)
	count, maxAt, err := ConversationStats(context.Background(), db, "a", "b")
	if err != nil {
		t.Fatalf("ConversationStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestConversationStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, true)

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for the a/b pair
	t3 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)   // other pair

	b, a, c := "b", "a", "c"
	rows := []domain.Message{
		{ID: "m1", SenderID: "a", ReceiverID: &b, Content: "1", Timestamp: t1, CreatedAt: t1, UpdatedAt: t1},
		{ID: "m2", SenderID: "b", ReceiverID: &a, Content: "2", Timestamp: t1, CreatedAt: t1, UpdatedAt: t2},
		{ID: "m3", SenderID: "a", ReceiverID: &c, Content: "3", Timestamp: t3, CreatedAt: t3, UpdatedAt: t3},
	}
	// GORM only fills CreatedAt/UpdatedAt when zero, so the seeded values stick.
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxAt, err := ConversationStats(context.Background(), db, "b", "a")
	if err != nil {
		t.Fatalf("ConversationStats error: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected (2, %v), got (%d, %v)", t2, count, maxAt)
	}
}

func TestGroupMessagesStats(t *testing.T) {
	db := newTestDB(t, true)
	g := "g1"
	t1 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	m := domain.Message{ID: "gm1", SenderID: "a", GroupID: &g, IsGroup: true, Content: "x", Timestamp: t1, CreatedAt: t1, UpdatedAt: t1}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxAt, err := GroupMessagesStats(context.Background(), db, "g1")
	if err != nil || count != 1 || maxAt == nil || !maxAt.Equal(t1) {
		t.Fatalf("GroupMessagesStats = (%d, %v, %v)", count, maxAt, err)
	}
	count, maxAt, err = GroupMessagesStats(context.Background(), db, "nope")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected zero stats for unknown group, got (%d, %v, %v)", count, maxAt, err)
	}
}
