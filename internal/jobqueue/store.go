package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound     = errf("job not found")
	ErrAlreadyTerminal = errf("job already terminal")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const (
	QueueSingle = "single"
	QueueBatch  = "batch"

	defaultResultTTL = 24 * time.Hour
	keyPrefix        = "gammon:"
)

type State string

const (
	StateQueued   State = "queued"
	StateStarted  State = "started"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

func (s State) Terminal() bool { return s == StateFinished || s == StateFailed }

// Job is the persisted record of one analysis request.
type Job struct {
	ID         string
	Kind       string
	Queue      string
	UserID     string
	Room       string
	Inputs     []string
	State      State
	Result     json.RawMessage
	Error      string
	Attempts   int
	Worker     string
	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time
}

type Options struct {
	ResultTTL time.Duration
}

type Store struct {
	rdb       *redis.Client
	resultTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time

	afterSnapshot func(worker string)
}

func NewStore(rdb *redis.Client, opts Options, logger *zap.Logger) *Store {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = defaultResultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, resultTTL: opts.ResultTTL, logger: logger, now: time.Now}
}

func (s *Store) keyQueue(name string) string        { return keyPrefix + "queue:" + strings.TrimSpace(name) }
func (s *Store) keyProcessing(worker string) string { return keyPrefix + "processing:" + worker }
func (s *Store) keyJob(id string) string            { return keyPrefix + "job:" + id }
func (s *Store) keyEvents(id string) string         { return s.keyJob(id) + ":events" }
func (s *Store) keyRunning() string                 { return keyPrefix + "running" }
func (s *Store) keyWorkers() string                 { return keyPrefix + "workers" }
func (s *Store) keyHeartbeat(worker string) string  { return keyPrefix + "heartbeat:" + worker }

// Get returns nil, nil when the record does not exist (never created or expired).
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.keyJob(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeJob(fields)
}

func (s *Store) Length(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, s.keyQueue(queue)).Result()
}

func encodeJob(j *Job) map[string]any {
	inputs, _ := json.Marshal(j.Inputs)
	m := map[string]any{
		"id":          j.ID,
		"kind":        j.Kind,
		"queue":       j.Queue,
		"user":        j.UserID,
		"room":        j.Room,
		"inputs":      string(inputs),
		"state":       string(j.State),
		"attempts":    j.Attempts,
		"enqueued_at": formatTime(j.EnqueuedAt),
	}
	return m
}

func decodeJob(f map[string]string) (*Job, error) {
	j := &Job{
		ID:         f["id"],
		Kind:       f["kind"],
		Queue:      f["queue"],
		UserID:     f["user"],
		Room:       f["room"],
		State:      State(f["state"]),
		Error:      f["error"],
		Worker:     f["worker"],
		EnqueuedAt: parseTime(f["enqueued_at"]),
		StartedAt:  parseTime(f["started_at"]),
		EndedAt:    parseTime(f["ended_at"]),
	}
	if raw := f["inputs"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of %s: %w", j.ID, err)
		}
	}
	if raw := f["result"]; raw != "" {
		j.Result = json.RawMessage(raw)
	}
	if n, err := strconv.Atoi(f["attempts"]); err == nil {
		j.Attempts = n
	}
	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Connect parses a redis:// or rediss:// URL and pings the server.
func Connect(ctx context.Context, raw string) (*redis.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := parseRedisURL(raw)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return opts, nil
}
