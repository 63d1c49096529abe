package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// maxSQLLength caps logged statements. Upserts of scan records carry
// encoded images in their bound values.
const maxSQLLength = 512

// GormLogger routes GORM output through a module logger. Statements are
// logged at trace level; failed and slow statements at warn.
type GormLogger struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger returns a GORM logger writing to log. A zero slow threshold
// disables slow statement warnings.
func NewGormLogger(log Logger, slow time.Duration) *GormLogger {
	if log == nil {
		log = Global().Module("gorm")
	}
	return &GormLogger{log: log, slow: slow}
}

// LogMode is a no-op; module levels decide what is written.
func (g *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *GormLogger) Info(_ context.Context, msg string, data ...any) {
	g.log.Debug(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	g.log.Warn(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Error(_ context.Context, msg string, data ...any) {
	g.log.Error(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	slow := g.slow > 0 && elapsed > g.slow
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)

	sql, rows := fc()
	fields := []Field{
		String("sql", truncateSQL(sql)),
		Int64("rows", rows),
		Duration("elapsed", elapsed),
	}
	switch {
	case failed:
		g.log.Warn("statement failed", append(fields, Error(err))...)
	case slow:
		g.log.Warn("slow statement", fields...)
	default:
		g.log.Trace("statement", fields...)
	}
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLength {
		return sql
	}
	return fmt.Sprintf("%s... (%d bytes)", sql[:maxSQLLength], len(sql))
}
