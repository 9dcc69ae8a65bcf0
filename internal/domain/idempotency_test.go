package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestIdempotency_AutoMigrate_UniqueScopeKey(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected composite index ux_user_scope_key")
	}

	now := time.Now().UTC()
	rec := Idempotency{ID: "i1", UserID: "u1", Scope: "POST /messages/send", Key: "k1", MessageID: "m1", Status: 200, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same key on another scope is a distinct record.
	other := rec
	other.ID, other.Scope = "i2", "POST /groups"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("insert other scope: %v", err)
	}

	dup := rec
	dup.ID = "i3"
	err := db.Create(&dup).Error
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestModels_TableNames_AndMigrate(t *testing.T) {
	if (User{}).TableName() != "users" || (Message{}).TableName() != "messages" ||
		(Group{}).TableName() != "chat_groups" || (GroupMember{}).TableName() != "group_members" {
		t.Fatalf("unexpected table names")
	}

	db := newTestDB(t)
	if err := db.SetupJoinTable(&Group{}, "Members", &GroupMember{}); err != nil {
		t.Fatalf("join table: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &Message{}, &Group{}, &GroupMember{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&User{}, "ux_users_username") {
		t.Fatalf("expected unique username index")
	}
	if !m.HasIndex(&Message{}, "idx_msg_pair") || !m.HasIndex(&Message{}, "idx_msg_unread") {
		t.Fatalf("expected message indexes")
	}

	u := User{ID: "u1", Username: "alice", Name: "Alice"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	g := Group{ID: "g1", Name: "team", CreatedBy: "u1", Members: []User{u}}
	if err := db.Create(&g).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	var got Group
	if err := db.Preload("Members").First(&got, "id = ?", "g1").Error; err != nil {
		t.Fatalf("load group: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0].ID != "u1" {
		t.Fatalf("members not linked: %+v", got.Members)
	}
}
