package filesync

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

var ErrNotReplicated = errf("file not replicated")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const (
	defaultAttempts = 30
	defaultDelay    = time.Second
)

// Waiter blocks until a file submitted on another node is visible locally.
type Waiter struct {
	attempts uint
	delay    time.Duration
	stat     func(string) (os.FileInfo, error)
	logger   *zap.Logger
}

func NewWaiter(attempts int, delay time.Duration, logger *zap.Logger) *Waiter {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if delay <= 0 {
		delay = defaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{attempts: uint(attempts), delay: delay, stat: os.Stat, logger: logger}
}

// Wait returns nil once path exists and is non-empty, or ErrNotReplicated after the last attempt.
func (w *Waiter) Wait(ctx context.Context, path string) error {
	err := retry.Do(
		func() error {
			fi, err := w.stat(path)
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return retry.Unrecoverable(fmt.Errorf("%s is a directory", path))
			}
			if fi.Size() == 0 {
				return fmt.Errorf("%s is empty", path)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(w.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Debug("file_sync_wait", zap.String("path", path), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReplicated, path, err)
	}
	return nil
}
