package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const EventFileDone = "file_done"

// Event is a progress notice published by a worker while a job runs.
type Event struct {
	Type   string          `json:"type"`
	File   string          `json:"file,omitempty"`
	Index  int             `json:"index"`
	Total  int             `json:"total"`
	Result json.RawMessage `json:"result,omitempty"`
	At     time.Time       `json:"at"`
}

func (s *Store) PushEvent(ctx context.Context, id string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.keyEvents(id), raw)
		pipe.Expire(ctx, s.keyEvents(id), s.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push event for %s: %w", id, err)
	}
	return nil
}

// PopEvents atomically takes every pending event in publish order.
func (s *Store) PopEvents(ctx context.Context, id string) ([]Event, error) {
	var rng *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rng = pipe.LRange(ctx, s.keyEvents(id), 0, -1)
		pipe.Del(ctx, s.keyEvents(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop events for %s: %w", id, err)
	}
	out := lo.FilterMap(rng.Val(), func(raw string, _ int) (Event, bool) {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return ev, false
		}
		return ev, true
	})
	return out, nil
}
