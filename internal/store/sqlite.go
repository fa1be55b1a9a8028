package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Store persists signals and orders so the pipeline can rehydrate open
// work after a restart and the HTTP surface can serve reads.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName selects the pure-Go modernc.org/sqlite driver; the default
	// mattn/go-sqlite3 driver is a non-functional stub under CGO_ENABLED=0,
	// and the DSN pragmas above use modernc's syntax.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// OpenFromDB wraps an existing gorm handle, used in tests.
func OpenFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SignalModel{}, &OrderModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveSignal(ctx context.Context, m *SignalModel) error {
	now := time.Now().Unix()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *Store) GetSignal(ctx context.Context, id string) (*SignalModel, error) {
	var m SignalModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]SignalModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []SignalModel
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) SaveOrder(ctx context.Context, m *OrderModel) error {
	now := time.Now().Unix()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.db.WithContext(ctx).Save(m).Error
}

func (s *Store) GetOrder(ctx context.Context, id string) (*OrderModel, error) {
	var m OrderModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListOpenOrders returns orders not yet in a terminal state, for startup
// reconciliation.
func (s *Store) ListOpenOrders(ctx context.Context) ([]OrderModel, error) {
	var out []OrderModel
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{"placed", "partially_filled"}).
		Find(&out).Error
	return out, err
}

// ListFilledOrders returns filled orders oldest first, for replaying
// positions into the ledger on startup.
func (s *Store) ListFilledOrders(ctx context.Context) ([]OrderModel, error) {
	var out []OrderModel
	err := s.db.WithContext(ctx).
		Where("state = ?", "filled").
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
