// Package postgres provides a Postgres-backed harvest ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/ledger"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store owns the pool shared by the resolved and failed ledgers.
type Store struct {
	pool  pool
	table string
}

// Open connects to Postgres using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, cfg.Table)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "harvest_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the ledger table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			site        TEXT NOT NULL,
			kind        TEXT NOT NULL,
			identifier  TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (site, kind, identifier)
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w: %w", harvest.ErrStorage, err)
	}
	return nil
}

// Ledger returns the ledger for one site and kind.
func (s *Store) Ledger(site string, kind ledger.Kind) *Ledger {
	return &Ledger{store: s, site: site, kind: kind}
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ledger is one (site, kind) slice of the ledger table.
type Ledger struct {
	store *Store
	site  string
	kind  ledger.Kind
}

// Load returns all identifiers recorded for the ledger's site and kind.
func (l *Ledger) Load(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT identifier FROM %s WHERE site = $1 AND kind = $2`, l.store.table)
	rows, err := l.store.pool.Query(ctx, query, l.site, string(l.kind))
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w: %w", harvest.ErrStorage, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w: %w", harvest.ErrStorage, err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w: %w", harvest.ErrStorage, err)
	}
	return ids, nil
}

// Append inserts id; the statement commits before it returns.
func (l *Ledger) Append(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (site, kind, identifier)
		VALUES ($1, $2, $3)
		ON CONFLICT (site, kind, identifier) DO NOTHING;`, l.store.table)
	if _, err := l.store.pool.Exec(ctx, query, l.site, string(l.kind), id); err != nil {
		return fmt.Errorf("insert ledger row: %w: %w", harvest.ErrStorage, err)
	}
	return nil
}

// Close is a no-op; the Store owns the pool.
func (l *Ledger) Close() error {
	return nil
}
