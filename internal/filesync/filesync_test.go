package filesync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSeesFileAppear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "match.mat")

	w := NewWaiter(20, 5*time.Millisecond, nil)
	calls := 0
	w.stat = func(p string) (os.FileInfo, error) {
		calls++
		if calls == 3 {
			require.NoError(t, os.WriteFile(path, []byte("Game 1"), 0o644))
		}
		return os.Stat(p)
	}
	require.NoError(t, w.Wait(context.Background(), path))
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWaitGivesUp(t *testing.T) {
	w := NewWaiter(3, time.Millisecond, nil)
	err := w.Wait(context.Background(), filepath.Join(t.TempDir(), "missing.mat"))
	assert.ErrorIs(t, err, ErrNotReplicated)
}

func TestWaitEmptyFileIsNotReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mat")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	err := NewWaiter(2, time.Millisecond, nil).Wait(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotReplicated)
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewWaiter(100, time.Second, nil).Wait(ctx, filepath.Join(t.TempDir(), "x.mat"))
	assert.ErrorIs(t, err, ErrNotReplicated)
}
