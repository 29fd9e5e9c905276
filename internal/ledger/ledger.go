package ledger

import (
	"context"
	"sync"
)

// ErrInsufficient is returned when the balance cannot cover the decrement.
var ErrInsufficient = errf("insufficient analysis balance")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Ledger tracks how many analyses a user may still run.
type Ledger interface {
	Decrement(ctx context.Context, userID string, n int) error
	Balance(ctx context.Context, userID string) (int64, error)
}

// Noop accepts every decrement. Used when no database is configured.
type Noop struct{}

func (Noop) Decrement(context.Context, string, int) error   { return nil }
func (Noop) Balance(context.Context, string) (int64, error) { return -1, nil }

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemory(initial map[string]int64) *Memory {
	m := &Memory{balances: make(map[string]int64, len(initial))}
	for k, v := range initial {
		m.balances[k] = v
	}
	return m
}

func (m *Memory) Decrement(_ context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < int64(n) {
		return ErrInsufficient
	}
	m.balances[userID] -= int64(n)
	return nil
}

func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}
