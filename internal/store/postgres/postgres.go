// Package postgres backs account scheduling state with PostgreSQL, for
// deployments where several router instances share one account pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/router-for-me/accountsched/sdk/sched"
)

const schema = `
CREATE TABLE IF NOT EXISTS sched_accounts (
    account_index INT PRIMARY KEY,
    enabled       BOOLEAN NOT NULL DEFAULT TRUE,
    last_used     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS sched_rate_limit_resets (
    account_index INT NOT NULL REFERENCES sched_accounts(account_index) ON DELETE CASCADE,
    quota_group   TEXT NOT NULL,
    reset_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (account_index, quota_group)
);`

// Store implements sched.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ sched.Store = (*Store)(nil)

// New connects to dsn and creates the schema when missing.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect failed: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ensure schema failed: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// EnsureAccount registers an account row when it does not exist yet.
func (s *Store) EnsureAccount(ctx context.Context, index int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sched_accounts (account_index) VALUES ($1) ON CONFLICT DO NOTHING`, index)
	if err != nil {
		return fmt.Errorf("postgres store: ensure account %d failed: %w", index, err)
	}
	return nil
}

// SetEnabled flips an account's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, index int, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sched_accounts SET enabled = $2 WHERE account_index = $1`, index, enabled)
	if err != nil {
		return fmt.Errorf("postgres store: set enabled failed: %w", err)
	}
	return nil
}

// List implements sched.Store.
func (s *Store) List(ctx context.Context) ([]sched.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_index, enabled, last_used FROM sched_accounts ORDER BY account_index`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list accounts failed: %w", err)
	}
	records, byIndex, err := scanAccounts(rows)
	if err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT account_index, quota_group, reset_at FROM sched_rate_limit_resets`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list resets failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			index   int
			group   string
			resetAt time.Time
		)
		if err := rows.Scan(&index, &group, &resetAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan reset failed: %w", err)
		}
		if rec, ok := byIndex[index]; ok {
			rec.RateLimitResetTimes[group] = resetAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate resets failed: %w", err)
	}
	return records, nil
}

func scanAccounts(rows pgx.Rows) ([]sched.Record, map[int]*sched.Record, error) {
	defer rows.Close()
	var records []sched.Record
	byIndex := make(map[int]*sched.Record)
	for rows.Next() {
		var (
			rec      sched.Record
			lastUsed *time.Time
		)
		if err := rows.Scan(&rec.Index, &rec.Enabled, &lastUsed); err != nil {
			return nil, nil, fmt.Errorf("postgres store: scan account failed: %w", err)
		}
		if lastUsed != nil {
			rec.LastUsed = *lastUsed
		}
		rec.RateLimitResetTimes = make(map[string]time.Time)
		records = append(records, rec)
		byIndex[rec.Index] = &records[len(records)-1]
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres store: iterate accounts failed: %w", err)
	}
	return records, byIndex, nil
}

// SetLastUsed implements sched.Store.
func (s *Store) SetLastUsed(ctx context.Context, index int, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sched_accounts SET last_used = $2 WHERE account_index = $1`, index, at.UTC())
	if err != nil {
		return fmt.Errorf("postgres store: set last used failed: %w", err)
	}
	return nil
}

// SetRateLimitReset implements sched.Store.
func (s *Store) SetRateLimitReset(ctx context.Context, index int, group string, until time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sched_rate_limit_resets (account_index, quota_group, reset_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_index, quota_group) DO UPDATE SET reset_at = EXCLUDED.reset_at`,
		index, group, until.UTC())
	if err != nil {
		return fmt.Errorf("postgres store: set reset failed: %w", err)
	}
	return nil
}
