package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"farmstats/internal/pool"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based persistence for pool stats history.
type Store struct {
	db *sql.DB
}

// SnapshotRecord is one stored fetch result. Figures that were NaN or
// infinite are stored as NULL and read back as nil.
type SnapshotRecord struct {
	ID                int64
	Pool              string
	Account           string
	APR               *float64
	WeeklyROI         *float64
	StakingTokenPrice *float64
	RewardTokenPrice  *float64
	Result            pool.Result
	FetchedAt         time.Time
}

// NewStore creates a new SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pools (
			key TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			name TEXT NOT NULL,
			reward_pool TEXT NOT NULL,
			staking_token TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pool TEXT NOT NULL,
			account TEXT NOT NULL,
			apr REAL,
			weekly_roi REAL,
			staking_token_price REAL,
			reward_token_price REAL,
			payload TEXT NOT NULL,
			fetched_at DATETIME NOT NULL,
			FOREIGN KEY (pool) REFERENCES pools(key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_pool_time ON snapshots(pool, fetched_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPool inserts or updates a pool's descriptive record.
func (s *Store) UpsertPool(ctx context.Context, cfg pool.Config) error {
	query := `INSERT INTO pools (key, provider, name, reward_pool, staking_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			provider = excluded.provider,
			name = excluded.name,
			reward_pool = excluded.reward_pool,
			staking_token = excluded.staking_token,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		cfg.Key, cfg.Provider, cfg.Name, cfg.RewardPool, cfg.StakingToken.Address, time.Now())
	return err
}

// SaveSnapshot stores a fetch result and returns its id.
func (s *Store) SaveSnapshot(ctx context.Context, result *pool.Result) (int64, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot payload: %w", err)
	}

	m := result.Metrics
	res, err := s.db.ExecContext(ctx, `INSERT INTO snapshots
		(pool, account, apr, weekly_roi, staking_token_price, reward_token_price, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Key, result.Account,
		nullFloat(m.APR), nullFloat(m.WeeklyROI),
		nullFloat(m.StakingTokenPrice), nullFloat(m.RewardTokenPrice),
		string(payload), result.FetchedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot for %s: %w", result.Key, err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot for a pool, or nil if none exists.
func (s *Store) LatestSnapshot(ctx context.Context, poolKey string) (*SnapshotRecord, error) {
	records, err := s.History(ctx, poolKey, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// History returns up to limit snapshots for a pool, newest first.
func (s *Store) History(ctx context.Context, poolKey string, limit int) ([]SnapshotRecord, error) {
	query := `SELECT id, pool, account, apr, weekly_roi, staking_token_price, reward_token_price, payload, fetched_at
		FROM snapshots
		WHERE pool = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, poolKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var (
			r                              SnapshotRecord
			apr, roi, lpPrice, rewardPrice sql.NullFloat64
			payload                        string
		)
		if err := rows.Scan(&r.ID, &r.Pool, &r.Account, &apr, &roi, &lpPrice, &rewardPrice, &payload, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Result); err != nil {
			return nil, fmt.Errorf("decoding snapshot %d: %w", r.ID, err)
		}
		r.APR = floatPtr(apr)
		r.WeeklyROI = floatPtr(roi)
		r.StakingTokenPrice = floatPtr(lpPrice)
		r.RewardTokenPrice = floatPtr(rewardPrice)
		records = append(records, r)
	}

	return records, rows.Err()
}

// PruneBefore deletes snapshots older than cutoff and returns how many were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// fetched_at is compared as text, so both sides must be in UTC
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE fetched_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// SnapshotCount returns the number of stored snapshots for a pool.
func (s *Store) SnapshotCount(ctx context.Context, poolKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots WHERE pool = ?", poolKey).Scan(&count)
	return count, err
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
