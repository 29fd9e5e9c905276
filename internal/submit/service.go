package submit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/metrics"
	"github.com/park285/gammon-analysis-bot/internal/notify"
)

type Gate interface {
	Acquire(ctx context.Context, userID, jobID string) error
	Release(ctx context.Context, userID, jobID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, j *jobqueue.Job) error
}

// Holder lists every user's occupied admission slots.
type Holder interface {
	Held(ctx context.Context) (map[string][]string, error)
}

type JobLookup interface {
	Get(ctx context.Context, id string) (*jobqueue.Job, error)
}

type Watcher interface {
	Watch(ctx context.Context, w notify.Watch)
}

// Request is one chat command turned into work.
type Request struct {
	UserID string
	Room   string
	Kind   string // jobqueue.QueueSingle or jobqueue.QueueBatch
	Inputs []string
}

type Accepted struct {
	JobID string
	Queue string
}

// Service admits, enqueues and starts a watcher for each request.
type Service struct {
	gate    Gate
	queue   Enqueuer
	watcher Watcher
	bg      context.Context
	wg      sync.WaitGroup
	newID   func() string
	logger  *zap.Logger
}

// New binds watchers to bg so they outlive the request that created them.
func New(bg context.Context, gate Gate, queue Enqueuer, watcher Watcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gate:    gate,
		queue:   queue,
		watcher: watcher,
		bg:      bg,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Submit returns admission.ErrBusy (wrapped or bare) when the user already has a job in flight.
func (s *Service) Submit(ctx context.Context, req Request) (*Accepted, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("submit: empty user id")
	}
	inputs := lo.Compact(lo.Map(req.Inputs, func(p string, _ int) string { return strings.TrimSpace(p) }))
	if len(inputs) == 0 {
		return nil, fmt.Errorf("submit: no input")
	}
	queue := req.Kind
	switch queue {
	case "", jobqueue.QueueSingle:
		queue = jobqueue.QueueSingle
	case jobqueue.QueueBatch:
	default:
		return nil, fmt.Errorf("submit: unknown kind %q", req.Kind)
	}

	id := s.newID()
	if err := s.gate.Acquire(ctx, req.UserID, id); err != nil {
		return nil, err
	}

	job := &jobqueue.Job{ID: id, Kind: queue, Queue: queue, UserID: req.UserID, Room: req.Room, Inputs: inputs}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if rerr := s.gate.Release(context.WithoutCancel(ctx), req.UserID, id); rerr != nil {
			s.logger.Warn("submit_release_failed", zap.String("job_id", id), zap.Error(rerr))
		}
		return nil, fmt.Errorf("submit: %w", err)
	}
	metrics.JobsSubmittedTotal.WithLabelValues(queue).Inc()
	s.logger.Info("job_submitted",
		zap.String("job_id", id),
		zap.String("queue", queue),
		zap.String("user_id", req.UserID),
		zap.Int("inputs", len(inputs)),
	)

	s.watch(notify.Watch{JobID: id, UserID: req.UserID, Room: req.Room})
	return &Accepted{JobID: id, Queue: queue}, nil
}

// Resume re-attaches a watcher to every job that still holds a slot, so jobs
// admitted before a restart get their results delivered. A slot whose job
// record is gone is released.
func (s *Service) Resume(ctx context.Context, held Holder, jobs JobLookup) (int, error) {
	slots, err := held.Held(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	resumed := 0
	for user, ids := range slots {
		for _, id := range ids {
			j, err := jobs.Get(ctx, id)
			if err != nil {
				s.logger.Warn("resume_lookup_failed", zap.String("job_id", id), zap.Error(err))
				continue
			}
			if j == nil {
				if err := s.gate.Release(ctx, user, id); err != nil {
					s.logger.Warn("resume_release_failed", zap.String("job_id", id), zap.Error(err))
				}
				s.logger.Info("resume_orphan_slot_released", zap.String("user_id", user), zap.String("job_id", id))
				continue
			}
			s.watch(notify.Watch{JobID: id, UserID: user, Room: j.Room})
			resumed++
		}
	}
	s.logger.Info("watchers_resumed", zap.Int("count", resumed))
	return resumed, nil
}

func (s *Service) watch(w notify.Watch) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watcher.Watch(s.bg, w)
	}()
}

// Wait blocks until every watcher started by Submit or Resume has returned.
func (s *Service) Wait() { s.wg.Wait() }
