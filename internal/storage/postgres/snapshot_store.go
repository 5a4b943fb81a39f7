// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aiqso/audit-engine/internal/audit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNotFound is returned when an audit ID does not resolve.
var ErrNotFound = errors.New("audit not found")

// SnapshotStoreConfig controls the Postgres connection pool used for
// audit snapshot rows.
type SnapshotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore writes audit snapshot rows into Postgres. History is
// append-only: rows are inserted once and never updated.
type SnapshotStore struct {
	pool  pgxQuerier
	table string
}

// NewSnapshotStore creates a Postgres-backed SnapshotStore using the
// provided config.
func NewSnapshotStore(ctx context.Context, cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "audit_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SnapshotStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSnapshotStoreWithPool(pool pgxQuerier, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "audit_snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const snapshotColumns = `id, client_id, target, tier, status, started_at, finished_at, score, category_scores, critical_count, warning_count, failure_reason, used_headless, html_blob_uri, checks`

// Save inserts one audit snapshot row.
func (s *SnapshotStore) Save(ctx context.Context, r audit.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if r.ID == "" {
		return fmt.Errorf("audit id is required")
	}
	checksJSON, err := json.Marshal(r.Checks)
	if err != nil {
		return fmt.Errorf("marshal checks: %w", err)
	}
	categoryJSON, err := json.Marshal(r.CategoryScores)
	if err != nil {
		return fmt.Errorf("marshal category scores: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	%s
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table, snapshotColumns)

	args := []any{
		r.ID,
		r.ClientID,
		r.Target,
		r.TierName,
		string(r.Status),
		r.StartedAt,
		r.FinishedAt,
		r.Score,
		categoryJSON,
		r.CriticalCount,
		r.WarningCount,
		r.FailureReason,
		r.UsedHeadless,
		r.HTMLBlobURI,
		checksJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for the audit ID.
func (s *SnapshotStore) Get(ctx context.Context, auditID string) (audit.Result, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, snapshotColumns, s.table)
	r, err := s.scanRow(s.pool.QueryRow(ctx, query, auditID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Result{}, fmt.Errorf("%s: %w", auditID, ErrNotFound)
		}
		return audit.Result{}, fmt.Errorf("get snapshot: %w", err)
	}
	return r, nil
}

// LatestCompleted returns the most recent completed snapshot for the
// pair, or nil when none exists.
func (s *SnapshotStore) LatestCompleted(ctx context.Context, clientID, target string) (*audit.Result, error) {
	return s.latest(ctx, clientID, target, []string{string(audit.StatusCompleted)})
}

// LatestFinished returns the most recent completed or failed snapshot
// for the pair, or nil when none exists.
func (s *SnapshotStore) LatestFinished(ctx context.Context, clientID, target string) (*audit.Result, error) {
	return s.latest(ctx, clientID, target, []string{string(audit.StatusCompleted), string(audit.StatusFailed)})
}

func (s *SnapshotStore) latest(ctx context.Context, clientID, target string, statuses []string) (*audit.Result, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE client_id = $1 AND target = $2 AND status = ANY($3)
ORDER BY finished_at DESC
LIMIT 1`, snapshotColumns, s.table)

	r, err := s.scanRow(s.pool.QueryRow(ctx, query, clientID, target, statuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return &r, nil
}

func (s *SnapshotStore) scanRow(row pgx.Row) (audit.Result, error) {
	var (
		r            audit.Result
		status       string
		checksJSON   []byte
		categoryJSON []byte
	)
	err := row.Scan(
		&r.ID,
		&r.ClientID,
		&r.Target,
		&r.TierName,
		&status,
		&r.StartedAt,
		&r.FinishedAt,
		&r.Score,
		&categoryJSON,
		&r.CriticalCount,
		&r.WarningCount,
		&r.FailureReason,
		&r.UsedHeadless,
		&r.HTMLBlobURI,
		&checksJSON,
	)
	if err != nil {
		return audit.Result{}, err
	}
	r.Status = audit.Status(status)
	if len(checksJSON) > 0 {
		if err := json.Unmarshal(checksJSON, &r.Checks); err != nil {
			return audit.Result{}, fmt.Errorf("unmarshal checks: %w", err)
		}
	}
	if len(categoryJSON) > 0 {
		if err := json.Unmarshal(categoryJSON, &r.CategoryScores); err != nil {
			return audit.Result{}, fmt.Errorf("unmarshal category scores: %w", err)
		}
	}
	return r, nil
}
