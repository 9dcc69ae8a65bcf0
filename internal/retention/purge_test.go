package retention

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
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

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(nil, "not a cron")
	require.ErrorIs(t, err, ErrBadSchedule)

	p, err := New(nil, "*/15 * * * *")
	require.NoError(t, err)
	require.Equal(t, "*/15 * * * *", p.Cron)
}

func TestRunOnce_DeletesOnlyExpired(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	now := time.Now()
	_, err := repo.RecordSend(ctx, db, repo.SendKey{UserID: "u1", Scope: "POST /messages/send", Key: "old"}, "m1", 201, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.RecordSend(ctx, db, repo.SendKey{UserID: "u1", Scope: "POST /messages/send", Key: "fresh"}, "m2", 201, now.Add(time.Hour))
	require.NoError(t, err)

	p, err := New(db, "@hourly")
	require.NoError(t, err)
	p.Now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }

	n, err := p.RunOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	var left []domain.Idempotency
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	require.Equal(t, "fresh", left[0].Key)
}

func TestRunOnce_SkipsWhenAlreadyRunning(t *testing.T) {
	p, err := New(nil, "@hourly")
	require.NoError(t, err)
	p.running = true

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, err := New(newDB(t), "@yearly")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
