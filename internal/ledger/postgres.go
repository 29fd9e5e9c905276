package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Postgres keeps balances in the analysis_balances table:
//
//	CREATE TABLE analysis_balances (user_id TEXT PRIMARY KEY, remaining BIGINT NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now());
type Postgres struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Decrement subtracts n only when the row can cover it.
func (p *Postgres) Decrement(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	const query = `
		UPDATE analysis_balances
		SET remaining = remaining - $2, updated_at = now()
		WHERE user_id = $1 AND remaining >= $2`
	res, err := p.db.ExecContext(ctx, query, userID, n)
	if err != nil {
		return fmt.Errorf("decrement balance of %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement balance of %s: %w", userID, err)
	}
	if affected == 0 {
		return ErrInsufficient
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var remaining int64
	err := p.db.QueryRowContext(ctx, `SELECT remaining FROM analysis_balances WHERE user_id = $1`, userID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance of %s: %w", userID, err)
	}
	return remaining, nil
}
