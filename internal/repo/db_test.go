package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/config"
	"github.com/tbourn/go-dm-backend/internal/domain"
)

// newTestDB opens a unique in-memory database per test. With migrate=true the
// full schema is created through AutoMigrate.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, username string) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{ID: id, Username: username, Name: strings.ToUpper(username[:1]) + username[1:], CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(config.StoreConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported driver")

	bad := filepath.Join(t.TempDir(), "does-not-exist", "app.db")
	db, err := Open(config.StoreConfig{Driver: "sqlite", Path: bad})
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db"), MaxOpenConns: 3})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journal string
	require.NoError(t, db.Raw("PRAGMA journal_mode;").Row().Scan(&journal))
	assert.Equal(t, "wal", strings.ToLower(journal))

	for pragma, want := range map[string]int{
		"synchronous":  1, // NORMAL
		"foreign_keys": 1,
		"busy_timeout": 5000,
	} {
		var got int
		require.NoError(t, db.Raw("PRAGMA "+pragma+";").Row().Scan(&got), pragma)
		assert.Equal(t, want, got, pragma)
	}
	assert.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, AutoMigrate(db))
	for _, tbl := range []any{&domain.User{}, &domain.Message{}, &domain.Group{}, &domain.GroupMember{}, &domain.Idempotency{}} {
		assert.True(t, db.Migrator().HasTable(tbl), "%T", tbl)
	}

	seedUser(t, db, "u1", "alice")
	self := "u1"
	msg := &domain.Message{SenderID: "u1", ReceiverID: &self, Content: "note to self"}
	require.NoError(t, CreateMessage(context.Background(), db, msg))
	got, err := GetMessage(context.Background(), db, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "note to self", got.Content)
}

func TestQueryLogger(t *testing.T) {
	var buf bytes.Buffer
	q := newQueryLogger(zerolog.New(&buf), 10*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT * FROM users WHERE id = ?", 1 }

	q.Trace(context.Background(), time.Now(), stmt, nil)
	assert.Empty(t, buf.String(), "fast queries are quiet at warn")

	q.Trace(context.Background(), time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "not found is not a failure")

	q.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"threshold":10`)
	buf.Reset()

	q.Trace(context.Background(), time.Now(), stmt, errors.New("disk I/O error"))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "disk I/O error")
	buf.Reset()

	verbose := q.LogMode(logger.Info)
	verbose.Trace(context.Background(), time.Now(), stmt, nil)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"store"`)
	buf.Reset()

	q.LogMode(logger.Silent).Trace(context.Background(), time.Now(), stmt, errors.New("x"))
	assert.Empty(t, buf.String())
}

func TestQueryLogger_HidesBindValues(t *testing.T) {
	var buf bytes.Buffer
	db := newTestDB(t, true)
	db.Logger = newQueryLogger(zerolog.New(&buf), 0).LogMode(logger.Info)

	seedUser(t, db, "u1", "alice")
	recv := "u1"
	require.NoError(t, CreateMessage(context.Background(), db, &domain.Message{SenderID: "u1", ReceiverID: &recv, Content: "top secret"}))

	assert.Contains(t, buf.String(), "INSERT INTO")
	assert.NotContains(t, buf.String(), "top secret")
}
