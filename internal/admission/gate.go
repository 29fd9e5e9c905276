package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/metrics"
)

// ErrBusy is returned when the user already has an analysis in flight.
var ErrBusy = errf("user already has an active analysis")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const defaultTTL = 70 * time.Minute

// acquireScript admits the job only when the user's slot set is empty.
var acquireScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) > 0 then
  return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// Gate limits each user to one in-flight job.
type Gate struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewGate(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{rdb: rdb, ttl: ttl, logger: logger}
}

func (g *Gate) key(userID string) string { return "gammon:active:" + strings.TrimSpace(userID) }

func (g *Gate) Acquire(ctx context.Context, userID, jobID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("acquire: empty user id")
	}
	ok, err := acquireScript.Run(ctx, g.rdb, []string{g.key(userID)}, jobID, g.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquire slot for %s: %w", userID, err)
	}
	if ok == 0 {
		metrics.AdmissionRejectedTotal.Inc()
		g.logger.Info("admission_rejected", zap.String("user_id", userID), zap.String("job_id", jobID))
		return ErrBusy
	}
	g.logger.Debug("admission_acquired", zap.String("user_id", userID), zap.String("job_id", jobID))
	return nil
}

// Release frees the slot held by jobID. Releasing an unknown job is a no-op.
func (g *Gate) Release(ctx context.Context, userID, jobID string) error {
	if err := g.rdb.SRem(ctx, g.key(userID), jobID).Err(); err != nil {
		return fmt.Errorf("release slot for %s: %w", userID, err)
	}
	g.logger.Debug("admission_released", zap.String("user_id", userID), zap.String("job_id", jobID))
	return nil
}

// Active lists the user's in-flight job ids.
func (g *Gate) Active(ctx context.Context, userID string) ([]string, error) {
	return g.rdb.SMembers(ctx, g.key(userID)).Result()
}

// Held maps every user with an occupied slot to the job ids holding it.
func (g *Gate) Held(ctx context.Context) (map[string][]string, error) {
	held := map[string][]string{}
	iter := g.rdb.Scan(ctx, 0, "gammon:active:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids, err := g.rdb.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("held %s: %w", key, err)
		}
		if len(ids) > 0 {
			held[strings.TrimPrefix(key, "gammon:active:")] = ids
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan active slots: %w", err)
	}
	return held, nil
}
