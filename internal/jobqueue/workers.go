package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/metrics"
)

var errWorkerLost = errf("worker lost while running job")

// Heartbeat marks the worker alive for ttl and registers it.
func (s *Store) Heartbeat(ctx context.Context, worker string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keyHeartbeat(worker), formatTime(s.now()), ttl)
		pipe.SAdd(ctx, s.keyWorkers(), worker)
		return nil
	})
	return err
}

// Unregister drops the worker's heartbeat. A worker that still holds jobs stays
// registered so the next Reap recovers them.
func (s *Store) Unregister(ctx context.Context, worker string) error {
	if err := s.rdb.Del(ctx, s.keyHeartbeat(worker)).Err(); err != nil {
		return err
	}
	n, err := s.rdb.LLen(ctx, s.keyProcessing(worker)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("worker_unregister_with_jobs", zap.String("worker", worker), zap.Int64("jobs", n))
		return nil
	}
	return s.rdb.SRem(ctx, s.keyWorkers(), worker).Err()
}

// LiveWorkers lists registered workers whose heartbeat has not expired.
func (s *Store) LiveWorkers(ctx context.Context) ([]string, error) {
	all, err := s.rdb.SMembers(ctx, s.keyWorkers()).Result()
	if err != nil {
		return nil, err
	}
	var live []string
	for _, w := range all {
		n, err := s.rdb.Exists(ctx, s.keyHeartbeat(w)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			live = append(live, w)
		}
	}
	return live, nil
}

type ReapStats struct {
	Requeued int
	Failed   int
}

// Reap recovers jobs held by workers whose heartbeat expired. A job goes back
// to the front of its queue while attempts < maxAttempts, otherwise it fails.
func (s *Store) Reap(ctx context.Context, maxAttempts int) (ReapStats, error) {
	var stats ReapStats
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	all, err := s.rdb.SMembers(ctx, s.keyWorkers()).Result()
	if err != nil {
		return stats, err
	}
	for _, w := range all {
		alive, err := s.rdb.Exists(ctx, s.keyHeartbeat(w)).Result()
		if err != nil {
			return stats, err
		}
		if alive > 0 {
			continue
		}
		ids, err := s.rdb.LRange(ctx, s.keyProcessing(w), 0, -1).Result()
		if err != nil {
			return stats, err
		}
		if s.afterSnapshot != nil {
			s.afterSnapshot(w)
		}
		for _, id := range ids {
			requeued, err := s.recover(ctx, w, id, maxAttempts)
			if err != nil {
				s.logger.Warn("job_reap_error", zap.String("job_id", id), zap.String("worker", w), zap.Error(err))
				continue
			}
			if requeued {
				stats.Requeued++
				metrics.JobsReapedTotal.WithLabelValues("requeued").Inc()
			} else {
				stats.Failed++
				metrics.JobsReapedTotal.WithLabelValues("failed").Inc()
			}
		}
		// recover removes ids one by one; anything claimed after the snapshot
		// stays listed and keeps the worker registered for the next pass
		left, err := s.rdb.LLen(ctx, s.keyProcessing(w)).Result()
		if err != nil {
			return stats, err
		}
		if left == 0 {
			if err := s.rdb.SRem(ctx, s.keyWorkers(), w).Err(); err != nil {
				return stats, err
			}
		}
		s.logger.Info("worker_reaped", zap.String("worker", w), zap.Int("jobs", len(ids)), zap.Int64("left", left))
	}
	return stats, nil
}

func (s *Store) recover(ctx context.Context, worker, id string, maxAttempts int) (bool, error) {
	j, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if j == nil || j.State.Terminal() {
		return false, s.rdb.LRem(ctx, s.keyProcessing(worker), 1, id).Err()
	}
	if j.Attempts >= maxAttempts {
		err := s.Fail(ctx, id, fmt.Errorf("%w after %d attempts", errWorkerLost, j.Attempts))
		if err != nil && !errors.Is(err, ErrAlreadyTerminal) {
			return false, err
		}
		return false, s.rdb.LRem(ctx, s.keyProcessing(worker), 1, id).Err()
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keyJob(id), map[string]any{"state": string(StateQueued), "worker": ""})
		pipe.SRem(ctx, s.keyRunning(), id)
		pipe.LRem(ctx, s.keyProcessing(worker), 1, id)
		pipe.RPush(ctx, s.keyQueue(j.Queue), id)
		return nil
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("job_requeued", zap.String("job_id", id), zap.String("worker", worker), zap.Int("attempts", j.Attempts))
	return true, nil
}
