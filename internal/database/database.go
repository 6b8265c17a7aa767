package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

type GormRepository struct {
	conn *gorm.DB
}

// OpenPostgres connects through lib/pq, verifies the connection and migrates
// the schema.
func OpenPostgres(dsn string, logger *zap.Logger) (*GormRepository, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig())
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	return initialize(db, logger, "postgres")
}

// OpenSQLite opens a SQLite database at path. A single connection is used so
// writers serialize.
func OpenSQLite(path string, logger *zap.Logger) (*GormRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return initialize(db, logger, "sqlite")
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

func initialize(db *gorm.DB, logger *zap.Logger, driver string) (*GormRepository, error) {
	if err := db.AutoMigrate(
		&User{},
		&Community{},
		&CommunityMember{},
		&Room{},
		&Message{},
		&Presence{},
		&Notification{},
		&Meeting{},
		&MeetingParticipant{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return &GormRepository{conn: db}, nil
}

// DB exposes the underlying handle for seeding and tests.
func (db *GormRepository) DB() *gorm.DB {
	return db.conn
}

func (db *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *GormRepository) Close() error {
	if db.conn == nil {
		return nil
	}
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func newId() string {
	return uuid.NewString()
}
