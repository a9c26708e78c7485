package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens dsn with the matching dialect: "sqlite:" prefixed or *.db
// paths use SQLite, anything else is treated as a MySQL DSN.
func Connect(dsn string, level logger.LogLevel) (*gorm.DB, error) {
	if path, ok := sqlitePath(dsn); ok {
		return OpenSQLite(path, level)
	}

	gdb, err := gorm.Open(mysql.Open(dsn), gormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

// OpenSQLite opens (creating if needed) a SQLite file with foreign keys and WAL on.
func OpenSQLite(path string, level logger.LogLevel) (*gorm.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file::memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	gdb, err := gorm.Open(gormsqlite.Open(dsn), gormConfig(level))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// one writer avoids "database is locked"
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// ParseLogLevel maps silent|error|warn|info to a gorm log level.
func ParseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

func sqlitePath(dsn string) (string, bool) {
	if rest, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return rest, true
	}
	base := dsn
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	if strings.HasSuffix(base, ".db") || base == ":memory:" || strings.HasPrefix(base, "file:") {
		return dsn, true
	}
	return "", false
}

// gormConfig stores timestamps in UTC so they round-trip as "...Z" on the wire.
func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:  newLogger(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func newLogger(level logger.LogLevel) logger.Interface {
	if level == 0 {
		level = logger.Warn
	}
	return logger.New(
		log.New(loggerWriter{}, "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// loggerWriter satisfies io.Writer for the gorm logger but delegates to std log.Printf
type loggerWriter struct{}

func (loggerWriter) Write(p []byte) (int, error) {
	log.Printf("%s", p)
	return len(p), nil
}
