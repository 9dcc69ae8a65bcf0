package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// queryLogger sends GORM output to zerolog. Failed queries log at error and
// queries over slow at warn. Bind values are never rendered into SQL, so
// message bodies and password hashes stay out of the logs.
type queryLogger struct {
	log   zerolog.Logger
	slow  time.Duration
	level logger.LogLevel
}

var (
	_ logger.Interface  = (*queryLogger)(nil)
	_ gorm.ParamsFilter = (*queryLogger)(nil)
)

func newQueryLogger(l zerolog.Logger, slow time.Duration) *queryLogger {
	return &queryLogger{
		log:   l.With().Str("component", "store").Logger(),
		slow:  slow,
		level: logger.Warn,
	}
}

func (q *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *q
	cp.level = level
	return &cp
}

func (q *queryLogger) Info(_ context.Context, msg string, args ...any) {
	if q.level >= logger.Info {
		q.log.Info().Msgf(msg, args...)
	}
}

func (q *queryLogger) Warn(_ context.Context, msg string, args ...any) {
	if q.level >= logger.Warn {
		q.log.Warn().Msgf(msg, args...)
	}
}

func (q *queryLogger) Error(_ context.Context, msg string, args ...any) {
	if q.level >= logger.Error {
		q.log.Error().Msgf(msg, args...)
	}
}

func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	var ev *zerolog.Event
	switch {
	case err != nil && q.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		ev = q.log.Error().Err(err)
	case q.slow > 0 && elapsed > q.slow && q.level >= logger.Warn:
		ev = q.log.Warn().Dur("threshold", q.slow)
	case q.level >= logger.Info:
		ev = q.log.Debug()
	default:
		return
	}
	sql, rows := fc()
	ev.Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
}

// ParamsFilter drops bind values before GORM renders the statement.
func (q *queryLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}
