package relay

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

func newStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func TestGormStore_MapsNotFound(t *testing.T) {
	s := NewGormStore(newStoreDB(t))
	ctx := context.Background()

	_, err := s.MarkDelivered(ctx, "ghost", "B")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = s.MarkRead(ctx, "ghost", "B")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = s.GroupMembers(ctx, "ghost")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGormStore_ReceiptFromStranger(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	for _, u := range []string{"A", "B", "C"} {
		require.NoError(t, db.Create(&domain.User{ID: u, Username: "user" + u}).Error)
	}
	recv := "B"
	m := &domain.Message{SenderID: "A", ReceiverID: &recv, Content: "hi"}
	require.NoError(t, repo.CreateMessage(ctx, db, m))

	s := NewGormStore(db)
	_, err := s.MarkRead(ctx, m.ID, "C")
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	_, err = s.MarkDelivered(ctx, m.ID, "C")
	assert.ErrorIs(t, err, ErrIdentityMismatch)

	var stored domain.Message
	require.NoError(t, db.First(&stored, "id = ?", m.ID).Error)
	assert.False(t, stored.IsDelivered)
	assert.False(t, stored.IsRead)

	got, err := s.MarkRead(ctx, m.ID, "B")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestGormStore_GroupMembers(t *testing.T) {
	db := newStoreDB(t)
	ctx := context.Background()
	for _, u := range []string{"A", "B"} {
		require.NoError(t, db.Create(&domain.User{ID: u, Username: "user" + u}).Error)
	}
	g, err := repo.CreateGroup(ctx, db, "team", "A", []string{"A", "B"})
	require.NoError(t, err)

	ids, err := NewGormStore(db).GroupMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

// The offline/online/read scenario against the real schema.
func TestGormStore_Scenario(t *testing.T) {
	db := newStoreDB(t)
	out := &recorder{}
	e := NewEngine(NewGormStore(db), presence.NewRegistry(), out, 8)
	h := &harness{t: t, e: e, out: out, reg: e.Presence}

	h.online("A", "c1")
	h.frame("c1", EventSendMessage, SendMessagePayload{Sender: "A", Receiver: "B", Content: "hi", TempID: "t1"})

	var first domain.Message
	require.NoError(t, db.Where("temp_id = ?", "t1").First(&first).Error)
	assert.False(t, first.IsDelivered)
	assert.False(t, first.IsRead)
	assert.Empty(t, out.events(EventReceiveMessage))
	require.Len(t, out.to("c1", EventMessageSentAck), 1)

	h.online("B", "c2")
	h.frame("c1", EventSendMessage, SendMessagePayload{Sender: "A", Receiver: "B", Content: "again", TempID: "t2"})
	recv := out.to("c2", EventReceiveMessage)
	require.Len(t, recv, 1)
	second := recv[0].Payload.(*domain.Message)

	h.frame("c2", EventMessageRead, MessageReadPayload{MessageID: second.ID, Sender: "A"})

	var stored domain.Message
	require.NoError(t, db.First(&stored, "id = ?", second.ID).Error)
	assert.True(t, stored.IsRead)
	assert.True(t, stored.IsDelivered)
	reads := out.to("c1", EventRead)
	require.Len(t, reads, 1)
	assert.Equal(t, second.ID, reads[0].Payload.(MessageRef).MessageID)
}
