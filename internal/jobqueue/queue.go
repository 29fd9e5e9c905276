package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTxRetries = 5

// Enqueue stores the record and appends its id to the queue tail.
func (s *Store) Enqueue(ctx context.Context, j *Job) error {
	if j == nil || j.ID == "" {
		return fmt.Errorf("enqueue: empty job id")
	}
	if j.Queue == "" {
		j.Queue = QueueSingle
	}
	if j.Kind == "" {
		j.Kind = j.Queue
	}
	j.State = StateQueued
	j.EnqueuedAt = s.now()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keyJob(j.ID), encodeJob(j))
		pipe.LPush(ctx, s.keyQueue(j.Queue), j.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", j.ID, err)
	}
	s.logger.Info("job_enqueued", zap.String("job_id", j.ID), zap.String("queue", j.Queue), zap.String("user_id", j.UserID))
	return nil
}

// Claim moves the oldest queued id into the worker's processing list and marks it started.
// Returns nil, nil when the queue is empty.
func (s *Store) Claim(ctx context.Context, queue, worker string) (*Job, error) {
	for {
		id, err := s.rdb.LMove(ctx, s.keyQueue(queue), s.keyProcessing(worker), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim from %s: %w", queue, err)
		}

		exists, err := s.rdb.Exists(ctx, s.keyJob(id)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			// record expired while queued
			_ = s.rdb.LRem(ctx, s.keyProcessing(worker), 1, id).Err()
			s.logger.Warn("job_claim_orphan", zap.String("job_id", id), zap.String("queue", queue))
			continue
		}

		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.keyJob(id), map[string]any{
				"state":      string(StateStarted),
				"worker":     worker,
				"started_at": formatTime(s.now()),
			})
			pipe.HIncrBy(ctx, s.keyJob(id), "attempts", 1)
			pipe.SAdd(ctx, s.keyRunning(), id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("mark %s started: %w", id, err)
		}
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j == nil {
			continue
		}
		s.logger.Info("job_claimed", zap.String("job_id", id), zap.String("worker", worker), zap.Int("attempt", j.Attempts))
		return j, nil
	}
}

// Complete records a successful result. result is JSON-encoded.
func (s *Store) Complete(ctx context.Context, id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result of %s: %w", id, err)
	}
	return s.finish(ctx, id, StateFinished, map[string]any{"result": string(raw)})
}

func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, id, StateFailed, map[string]any{"error": msg})
}

// finish performs the single allowed transition into a terminal state.
func (s *Store) finish(ctx context.Context, id string, state State, fields map[string]any) error {
	key := s.keyJob(id)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HMGet(ctx, key, "state", "worker").Result()
		if err != nil {
			return err
		}
		if cur[0] == nil {
			return ErrJobNotFound
		}
		if State(fmt.Sprint(cur[0])).Terminal() {
			return ErrAlreadyTerminal
		}
		worker, _ := cur[1].(string)

		fields["state"] = string(state)
		fields["ended_at"] = formatTime(s.now())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, s.resultTTL)
			pipe.Expire(ctx, s.keyEvents(id), s.resultTTL)
			pipe.SRem(ctx, s.keyRunning(), id)
			if worker != "" {
				pipe.LRem(ctx, s.keyProcessing(worker), 1, id)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			s.logger.Info("job_terminal", zap.String("job_id", id), zap.String("state", string(state)))
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("finish %s: too much contention", id)
}

// Position describes where a queued job stands.
type Position struct {
	Ahead   int64
	Running int64
	Workers int64
}

// Place is the 1-based place in line.
func (p Position) Place() int64 { return p.Ahead + 1 }

func (s *Store) Position(ctx context.Context, j *Job) (Position, error) {
	var pos Position
	qkey := s.keyQueue(j.Queue)
	idx, err := s.rdb.LPos(ctx, qkey, j.ID, redis.LPosArgs{}).Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		return pos, fmt.Errorf("position of %s: %w", j.ID, err)
	default:
		n, err := s.rdb.LLen(ctx, qkey).Result()
		if err != nil {
			return pos, err
		}
		// ids are pushed left and claimed right
		pos.Ahead = n - 1 - idx
	}

	if pos.Running, err = s.rdb.SCard(ctx, s.keyRunning()).Result(); err != nil {
		return pos, err
	}
	live, err := s.LiveWorkers(ctx)
	if err != nil {
		return pos, err
	}
	pos.Workers = int64(len(live))
	return pos, nil
}
