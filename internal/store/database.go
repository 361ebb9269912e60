package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/errors"
)

// DB wraps the database connection with additional functionality
type DB struct {
	*sqlx.DB
	config *config.DatabaseConfig
}

// New creates a new database connection with a tuned pool
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to connect to database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewDatabaseError("failed to ping database").WithCause(err)
	}

	return &DB{
		DB:     db,
		config: cfg,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	if db.DB == nil {
		return errors.NewDatabaseError("database connection is nil")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.NewDatabaseError("database health check failed").WithCause(err)
	}

	return nil
}

// WithTransaction executes a function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseError("failed to begin transaction").WithCause(err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.NewDatabaseError("failed to rollback transaction").WithCause(rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewDatabaseError("failed to commit transaction").WithCause(err)
	}

	return nil
}

// Stats returns connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}
