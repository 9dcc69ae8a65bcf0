// Package retention runs housekeeping on a cron schedule. Today that is the
// purge of expired Idempotency-Key records, which otherwise only stop
// matching lookups and are never removed.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/repo"
)

// ErrBadSchedule is returned by New for an expression gronx cannot parse.
var ErrBadSchedule = errors.New("retention: invalid cron expression")

var purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "idempotency_keys_purged_total",
	Help: "Expired idempotency records removed by the retention job.",
})

func init() { prometheus.MustRegister(purgedTotal) }

// retryAfter is the back-off when the next tick cannot be computed.
const retryAfter = 30 * time.Second

// Purger deletes expired idempotency records each time Cron fires.
type Purger struct {
	DB   *gorm.DB
	Cron string
	Now  func() time.Time
	Log  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New validates the schedule and returns a Purger using wall-clock UTC.
func New(db *gorm.DB, cron string) (*Purger, error) {
	if !gronx.IsValid(cron) {
		return nil, ErrBadSchedule
	}
	return &Purger{
		DB:   db,
		Cron: cron,
		Now:  func() time.Time { return time.Now().UTC() },
		Log:  log.With().Str("component", "retention").Logger(),
	}, nil
}

// Run sleeps until each tick and purges, returning when ctx is done.
func (p *Purger) Run(ctx context.Context) {
	p.Log.Info().Str("cron", p.Cron).Msg("idempotency purge scheduled")
	for {
		next, err := gronx.NextTickAfter(p.Cron, p.Now(), false)
		if err != nil {
			p.Log.Error().Err(err).Str("cron", p.Cron).Msg("next tick failed")
			if !sleep(ctx, retryAfter) {
				return
			}
			continue
		}
		if !sleep(ctx, next.Sub(p.Now())) {
			return
		}
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.Log.Error().Err(err).Msg("idempotency purge failed")
		}
	}
}

// RunOnce purges immediately. Overlapping calls return zero without
// touching the store.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return 0, nil
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	start := time.Now()
	n, err := repo.PurgeExpiredIdempotency(ctx, p.DB, p.Now())
	if err != nil {
		return 0, err
	}
	purgedTotal.Add(float64(n))
	p.Log.Debug().Int64("purged", n).Dur("took", time.Since(start)).Msg("idempotency purge done")
	return n, nil
}

// sleep waits d (at least a second, so a tick computed for "now" cannot
// spin) and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d < time.Second {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
