package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/campusware/rollcall/internal/database"
)

// Pool manages a read-only connection to the campus student information
// system, which runs on MariaDB.
type Pool struct {
	db *sql.DB
}

var (
	globalPool *Pool
	poolMu     sync.RWMutex
)

// NewPool creates a new MariaDB connection pool.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("SIS DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SIS database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SIS database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// GetGlobalPool returns the global SIS pool, or nil before Initialize.
func GetGlobalPool() *Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return globalPool
}

// Initialize connects to the SIS and registers the roster backend.
func Initialize(dsn string) error {
	pool, err := NewPool(dsn)
	if err != nil {
		return fmt.Errorf("failed to create SIS pool: %w", err)
	}

	poolMu.Lock()
	globalPool = pool
	poolMu.Unlock()

	database.RegisterRosterBackend(func() database.RosterReader {
		poolMu.RLock()
		defer poolMu.RUnlock()
		return NewRosterRepository(globalPool)
	})
	return nil
}
