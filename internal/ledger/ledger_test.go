package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDecrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(map[string]int64{"u1": 3})

	require.NoError(t, m.Decrement(ctx, "u1", 2))
	bal, _ := m.Balance(ctx, "u1")
	assert.Equal(t, int64(1), bal)

	assert.ErrorIs(t, m.Decrement(ctx, "u1", 2), ErrInsufficient)
	assert.ErrorIs(t, m.Decrement(ctx, "nobody", 1), ErrInsufficient)
	assert.NoError(t, m.Decrement(ctx, "nobody", 0))
}

func TestNoopAlwaysSucceeds(t *testing.T) {
	var l Ledger = Noop{}
	assert.NoError(t, l.Decrement(context.Background(), "u1", 100))
}

func TestPostgresDecrement(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer p.Close()
	// temp tables are per connection
	p.db.SetMaxOpenConns(1)

	_, err = p.db.ExecContext(ctx, `CREATE TEMP TABLE analysis_balances (user_id TEXT PRIMARY KEY, remaining BIGINT NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	require.NoError(t, err)
	_, err = p.db.ExecContext(ctx, `INSERT INTO analysis_balances (user_id, remaining) VALUES ('u1', 2)`)
	require.NoError(t, err)

	require.NoError(t, p.Decrement(ctx, "u1", 2))
	assert.ErrorIs(t, p.Decrement(ctx, "u1", 1), ErrInsufficient)
	bal, err := p.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}
