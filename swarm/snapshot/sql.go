package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseConfig configures the SQL snapshot store.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver   string `yaml:"driver" env:"DRIVER" json:"driver"`
	Host     string `yaml:"host" env:"HOST" json:"host"`
	Port     int    `yaml:"port" env:"PORT" json:"port"`
	User     string `yaml:"user" env:"USER" json:"user"`
	Password string `yaml:"password" env:"PASSWORD" json:"password"`

	// Name is the database name, or the file path for sqlite.
	Name    string `yaml:"name" env:"NAME" json:"name"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE" json:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME" json:"conn_max_idle_time"`
}

// DefaultDatabaseConfig returns a DatabaseConfig with sensible defaults.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "agentswarm.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DSN returns the data source name for the configured driver, or "" when
// the driver is unsupported.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

func (d DatabaseConfig) dialector() (gorm.Dialector, error) {
	switch d.Driver {
	case "postgres":
		return postgres.Open(d.DSN()), nil
	case "mysql":
		return mysql.Open(d.DSN()), nil
	case "sqlite":
		return sqlite.Open(d.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", d.Driver)
	}
}

// snapshotRecord is one persisted snapshot row.
type snapshotRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Version   int       `gorm:"not null"`
	TakenAt   time.Time `gorm:"index;not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time
}

func (snapshotRecord) TableName() string { return "swarm_snapshots" }

// SQLStore keeps snapshots in the swarm_snapshots table and deletes rows
// beyond the retention size on every save.
type SQLStore struct {
	db     *gorm.DB
	retain int
	owned  bool
	logger *zap.Logger
}

// NewSQLStore opens the configured database, applies pool settings and
// migrates the snapshot table.
func NewSQLStore(config DatabaseConfig, retain int, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := config.dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	store, err := NewSQLStoreFromDB(db, retain, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store.owned = true
	logger.Info("database connected", zap.String("driver", config.Driver))
	return store, nil
}

// NewSQLStoreFromDB wraps an existing connection. The caller keeps
// ownership: Close does not close db.
func NewSQLStoreFromDB(db *gorm.DB, retain int, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retain < 1 {
		retain = 1
	}
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshot table: %w", err)
	}
	return &SQLStore{
		db:     db,
		retain: retain,
		logger: logger.With(zap.String("component", "snapshot_sql")),
	}, nil
}

// Save inserts the snapshot and prunes old rows in one transaction.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return wrapStoreErr("encode", BackendSQL, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := snapshotRecord{Version: snap.Version, TakenAt: snap.TakenAt, Payload: payload}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		var stale []snapshotRecord
		if err := tx.Select("id").Order("id desc").Offset(s.retain).Limit(1).Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		return tx.Where("id <= ?", stale[0].ID).Delete(&snapshotRecord{}).Error
	})
	if err != nil {
		s.logger.Error("snapshot save failed", zap.Error(err))
		return wrapStoreErr("save", BackendSQL, err)
	}
	return nil
}

// Load returns the most recently inserted snapshot.
func (s *SQLStore) Load(ctx context.Context) (Snapshot, error) {
	var rec snapshotRecord
	err := s.db.WithContext(ctx).Order("id desc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, errNoSnapshot(BackendSQL)
	}
	if err != nil {
		s.logger.Error("snapshot load failed", zap.Error(err))
		return Snapshot{}, wrapStoreErr("load", BackendSQL, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		return Snapshot{}, wrapStoreErr("decode", BackendSQL, err)
	}
	return snap, nil
}

// Len returns the number of retained snapshot rows.
func (s *SQLStore) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&snapshotRecord{}).Count(&n).Error
	return n, err
}

// Close closes the connection when the store opened it.
func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
