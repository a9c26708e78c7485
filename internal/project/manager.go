package project

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/lovely-prompts/internal/db"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

const Default = "default"

var (
	ErrNotFound    = errors.New("project not found")
	ErrInvalidName = errors.New("invalid project name")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,63}$`)

// SchemaInfo records the storage schema revision of a project database.
type SchemaInfo struct {
	ID        uint `gorm:"primaryKey"`
	Version   int  `gorm:"not null"`
	UpdatedAt time.Time
}

func (SchemaInfo) TableName() string { return "schema_info" }

// Manager hands out one gorm handle per project. Every project lives in its
// own SQLite file under <dataDir>/dbs so it can be removed with rm.
type Manager struct {
	dir   string
	level logger.LogLevel

	mu  sync.Mutex
	dbs map[string]*gorm.DB
}

func NewManager(dataDir string, level logger.LogLevel) *Manager {
	return &Manager{
		dir:   filepath.Join(dataDir, "dbs"),
		level: level,
		dbs:   make(map[string]*gorm.DB),
	}
}

func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".db")
}

func (m *Manager) Exists(name string) bool {
	if !ValidName(name) {
		return false
	}
	_, err := os.Stat(m.path(name))
	return err == nil
}

// Open returns the handle of an existing project.
func (m *Manager) Open(ctx context.Context, name string) (*gorm.DB, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gdb, ok := m.dbs[name]; ok {
		return gdb.WithContext(ctx), nil
	}
	if _, err := os.Stat(m.path(name)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, err
	}
	gdb, err := m.openLocked(name)
	if err != nil {
		return nil, err
	}
	return gdb.WithContext(ctx), nil
}

// Create opens a project, creating and migrating its database when missing.
func (m *Manager) Create(ctx context.Context, name string) (*gorm.DB, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gdb, ok := m.dbs[name]; ok {
		return gdb.WithContext(ctx), nil
	}
	gdb, err := m.openLocked(name)
	if err != nil {
		return nil, err
	}
	return gdb.WithContext(ctx), nil
}

func (m *Manager) openLocked(name string) (*gorm.DB, error) {
	_, statErr := os.Stat(m.path(name))
	created := os.IsNotExist(statErr)

	gdb, err := db.OpenSQLite(m.path(name), m.level)
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate project %q: %w", name, err)
	}
	if created {
		log.Printf("project created name=%s path=%s", name, m.path(name))
	}
	m.dbs[name] = gdb
	return gdb, nil
}

// List returns the names of all projects on disk, sorted.
func (m *Manager) List() ([]string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), ".db")
		if !ok || !ValidName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, gdb := range m.dbs {
		sqlDB, err := gdb.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.dbs, name)
	}
	return errors.Join(errs...)
}

// Migrate brings a project database to the current storage schema.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.Prompt{}, &models.Response{}, &SchemaInfo{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	info := SchemaInfo{ID: 1, Version: schema.CurrentVersion}
	return gdb.Save(&info).Error
}
