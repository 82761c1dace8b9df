package datastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/tracktagger-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow. 1 second accommodates migration batch queries.
const DefaultSlowQueryThreshold = 1 * time.Second

var datastoreLogger *slog.Logger

// GetLogger returns the datastore service logger.
func GetLogger() *slog.Logger {
	if datastoreLogger == nil {
		datastoreLogger = logging.ForService("datastore")
	}
	return datastoreLogger
}

// createGormLogger configures and returns a new GORM logger instance routing
// through the datastore slog logger.
func createGormLogger() gormlogger.Interface {
	return &slogGormLogger{
		slow:  DefaultSlowQueryThreshold,
		level: gormlogger.Warn,
	}
}

// slogGormLogger adapts GORM's logger interface to slog.
type slogGormLogger struct {
	slow  time.Duration
	level gormlogger.LogLevel
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		GetLogger().Info(msg, "data", data)
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		GetLogger().Warn(msg, "data", data)
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		GetLogger().Error(msg, "data", data)
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !isNotFound(err):
		sql, rows := fc()
		GetLogger().Error("Query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > l.slow && l.slow != 0 && l.level >= gormlogger.Warn:
		sql, rows := fc()
		GetLogger().Warn("Slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level == gormlogger.Info:
		sql, rows := fc()
		GetLogger().Debug("Query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	migrationLogger := GetLogger().With("db_type", dbType)

	migrationLogger.Debug("Starting database migration")

	if err := db.AutoMigrate(&Track{}, &Stream{}, &Play{}, &Recognition{}); err != nil {
		return dbError(err, "auto_migration", "high", "db_type", dbType)
	}

	if debug {
		migrationLogger.Debug("Database migration completed successfully",
			"connection", connectionInfo,
			"total_duration", time.Since(migrationStart))
	}

	return nil
}
