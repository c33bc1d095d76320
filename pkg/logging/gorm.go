package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowThreshold = 200 * time.Millisecond

type gormLogger struct {
	log           *slog.Logger
	slowThreshold time.Duration
}

// NewGormLogger routes gorm's query logging into slog.
//
//nolint:ireturn // gorm requires the interface
func NewGormLogger(log *slog.Logger) gormlogger.Interface {
	return &gormLogger{
		log:           Or(log).With("component", "gorm"),
		slowThreshold: defaultSlowThreshold,
	}
}

// LogMode is a no-op; levels come from the slog handler.
//
//nolint:ireturn // gorm requires the interface
func (l *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.log.InfoContext(ctx, msg, "data", fmt.Sprint(data...))
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.log.WarnContext(ctx, msg, "data", fmt.Sprint(data...))
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.log.ErrorContext(ctx, msg, "data", fmt.Sprint(data...))
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []any{"elapsed", elapsed, "rows", rows, "sql", sql}

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		l.log.DebugContext(ctx, "database query - no records found", attrs...)
	case err != nil:
		l.log.ErrorContext(ctx, "database query failed", append(attrs, "error", err)...)
	case elapsed > l.slowThreshold:
		l.log.WarnContext(ctx, "slow query detected", append(attrs, "threshold", l.slowThreshold)...)
	default:
		l.log.DebugContext(ctx, "database query completed", attrs...)
	}
}
