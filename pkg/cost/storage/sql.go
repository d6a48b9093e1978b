package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites ? placeholders as $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect Dialect

	// DSN is the SQLite file path or the Postgres connection string.
	DSN string

	// BusyTimeout is how long SQLite waits for locks.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// CheckpointInterval is how often the SQLite WAL is checkpointed.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// MaxOpenConns bounds the Postgres pool. SQLite always uses one.
	// Default: 10
	MaxOpenConns int

	Logger *slog.Logger
}

// SQLStore implements Store on SQLite or Postgres through database/sql.
// It also provides a catalog repository and an alert sink on the same
// database.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	logger    *slog.Logger
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// OpenSQL opens the database described by cfg and creates the schema.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Dialect {
	case DialectSQLite, "":
		cfg.Dialect = DialectSQLite
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
			cfg.DSN, cfg.BusyTimeout.Milliseconds())
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite only supports a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case DialectPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}

	s := NewSQLStore(db, cfg.Dialect, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Dialect == DialectSQLite {
		go s.checkpointLoop(cfg.CheckpointInterval)
	}
	return s, nil
}

// NewSQLStore wraps an open database without touching the schema.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "storage", "dialect", string(dialect)),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_estimates (
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		total BIGINT NOT NULL DEFAULT 0,
		consumed BIGINT NOT NULL DEFAULT 0,
		limit_value BIGINT NOT NULL DEFAULT -1,
		threshold BIGINT NOT NULL DEFAULT 0,
		details TEXT,
		child_count INTEGER NOT NULL DEFAULT 0,
		unlimited_children INTEGER NOT NULL DEFAULT 0,
		child_limit_sum BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (scope_kind, scope_id, year, month)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_estimates_month ON price_estimates(year, month)`,
	`CREATE TABLE IF NOT EXISTS price_estimate_links (
		child_kind TEXT NOT NULL,
		child_id TEXT NOT NULL,
		parent_kind TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		PRIMARY KEY (child_kind, child_id, year, month, parent_kind, parent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_estimate_links_parent ON price_estimate_links(parent_kind, parent_id, year, month)`,
	`CREATE TABLE IF NOT EXISTS consumption_details (
		resource_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		resource_type TEXT NOT NULL DEFAULT '',
		service_id TEXT NOT NULL DEFAULT '',
		configuration TEXT NOT NULL,
		consumed_before_update TEXT NOT NULL,
		last_update_time BIGINT NOT NULL,
		PRIMARY KEY (resource_id, year, month)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consumption_details_month ON consumption_details(year, month)`,
	`CREATE TABLE IF NOT EXISTS price_list_items (
		id TEXT PRIMARY KEY,
		resource_kind TEXT NOT NULL,
		item_type TEXT NOT NULL,
		item_key TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		hourly_rate BIGINT NOT NULL,
		UNIQUE (resource_kind, item_type, item_key)
	)`,
	`CREATE TABLE IF NOT EXISTS price_list_overrides (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		default_item_id TEXT NOT NULL REFERENCES price_list_items(id),
		hourly_rate BIGINT NOT NULL,
		UNIQUE (service_id, default_item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		scope_kind TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		opened_at BIGINT NOT NULL,
		closed_at BIGINT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open ON alerts(scope_kind, scope_id, alert_type) WHERE closed_at IS NULL`,
}

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// WithTx implements Store.
func (s *SQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := fn(ctx, &sqlTxn{tx: sqlTx, dialect: s.dialect, now: s.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("Rollback failed", "error", rbErr)
		}
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.dialect == DialectSQLite {
			if _, cpErr := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); cpErr != nil {
				s.logger.Warn("Final checkpoint failed", "error", cpErr)
			}
		}
		err = s.db.Close()
	})
	return err
}

func (s *SQLStore) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("WAL checkpoint failed", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}
