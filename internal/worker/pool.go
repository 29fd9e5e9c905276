package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/gammon-analysis-bot/internal/analysis"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/ledger"
	"github.com/park285/gammon-analysis-bot/internal/metrics"
)

var errNoInput = errors.New("job has no input path")

// Queue is the part of jobqueue.Store the pool drives.
type Queue interface {
	Claim(ctx context.Context, queue, worker string) (*jobqueue.Job, error)
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id string, cause error) error
	PushEvent(ctx context.Context, id string, ev jobqueue.Event) error
	Heartbeat(ctx context.Context, worker string, ttl time.Duration) error
	Unregister(ctx context.Context, worker string) error
	Reap(ctx context.Context, maxAttempts int) (jobqueue.ReapStats, error)
	Length(ctx context.Context, queue string) (int64, error)
}

// Analyzer is implemented by analysis.Pipeline.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string, opts analysis.FileOptions) (analysis.FileResult, error)
	AnalyzeBatch(ctx context.Context, batchID, zipPath string, onFile analysis.FileDone) (analysis.BatchResult, error)
}

type Config struct {
	Slots             int
	Queues            []string
	SingleTimeout     time.Duration
	BatchTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	ReapInterval      time.Duration
	IdleInterval      time.Duration
	MaxAttempts       int
	OutputDir         string
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = 1
	}
	if len(c.Queues) == 0 {
		c.Queues = []string{jobqueue.QueueSingle, jobqueue.QueueBatch}
	}
	if c.SingleTimeout <= 0 {
		c.SingleTimeout = 10 * time.Minute
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 60 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		c.HeartbeatTTL = 3 * c.HeartbeatInterval
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.OutputDir == "" {
		c.OutputDir = "output"
	}
	return c
}

// Pool runs Slots independent workers plus one reaper.
type Pool struct {
	cfg      Config
	queue    Queue
	analyzer Analyzer
	ledger   ledger.Ledger
	logger   *zap.Logger
}

func NewPool(cfg Config, q Queue, a Analyzer, l ledger.Ledger, logger *zap.Logger) *Pool {
	if l == nil {
		l = ledger.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg.withDefaults(), queue: q, analyzer: a, ledger: l, logger: logger}
}

// Run blocks until ctx is cancelled or a slot hits an unrecoverable error.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	host, _ := os.Hostname()
	for i := 0; i < p.cfg.Slots; i++ {
		id := fmt.Sprintf("%s-%d-%s", host, i, uuid.NewString()[:8])
		g.Go(func() error { return p.slot(gctx, id) })
	}
	g.Go(func() error { return p.reapLoop(gctx) })
	p.logger.Info("worker_pool_started", zap.Int("slots", p.cfg.Slots), zap.Strings("queues", p.cfg.Queues))
	return g.Wait()
}

func (p *Pool) slot(ctx context.Context, id string) error {
	log := p.logger.With(zap.String("worker", id))
	if err := p.queue.Heartbeat(ctx, id, p.cfg.HeartbeatTTL); err != nil {
		return fmt.Errorf("register worker %s: %w", id, err)
	}
	hbCtx, stopHB := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, id, log)
	defer func() {
		stopHB()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.queue.Unregister(cctx, id); err != nil {
			log.Warn("worker_unregister_failed", zap.Error(err))
		}
		log.Info("worker_stopped")
	}()

	idle := time.NewTimer(0)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
		job, err := p.claimNext(ctx, id)
		if err != nil {
			log.Warn("worker_claim_failed", zap.Error(err))
		}
		if job != nil {
			p.Execute(ctx, id, job)
			idle.Reset(0)
			continue
		}
		idle.Reset(p.cfg.IdleInterval)
	}
}

func (p *Pool) heartbeat(ctx context.Context, id string, log *zap.Logger) {
	t := time.NewTicker(p.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.queue.Heartbeat(ctx, id, p.cfg.HeartbeatTTL); err != nil && ctx.Err() == nil {
				log.Warn("worker_heartbeat_failed", zap.Error(err))
			}
		}
	}
}

// claimNext tries each queue in configured order.
func (p *Pool) claimNext(ctx context.Context, id string) (*jobqueue.Job, error) {
	for _, q := range p.cfg.Queues {
		job, err := p.queue.Claim(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func (p *Pool) timeoutFor(queue string) time.Duration {
	if queue == jobqueue.QueueBatch {
		return p.cfg.BatchTimeout
	}
	return p.cfg.SingleTimeout
}

// Execute runs one claimed job to a terminal state. If ctx is cancelled
// mid-job the record is left for the reaper.
func (p *Pool) Execute(ctx context.Context, workerID string, job *jobqueue.Job) {
	log := p.logger.With(zap.String("worker", workerID), zap.String("job_id", job.ID), zap.String("queue", job.Queue))
	timeout := p.timeoutFor(job.Queue)
	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, analyzed, err := p.run(jctx, job, log)
	elapsed := time.Since(start)
	metrics.JobDurationSeconds.WithLabelValues(job.Queue).Observe(elapsed.Seconds())

	if ctx.Err() != nil {
		log.Warn("job_interrupted", zap.Duration("elapsed", elapsed))
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("job timeout after %v: %w", timeout, err)
		}
		log.Warn("job_failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		if ferr := p.queue.Fail(ctx, job.ID, err); ferr != nil {
			log.Error("job_fail_record", zap.Error(ferr))
		}
		metrics.JobsFinishedTotal.WithLabelValues(job.Queue, string(jobqueue.StateFailed)).Inc()
		return
	}

	if cerr := p.queue.Complete(ctx, job.ID, result); cerr != nil {
		log.Error("job_complete_record", zap.Error(cerr))
		return
	}
	metrics.JobsFinishedTotal.WithLabelValues(job.Queue, string(jobqueue.StateFinished)).Inc()
	log.Info("job_finished", zap.Duration("elapsed", elapsed), zap.Int("analyzed", analyzed))

	if analyzed > 0 {
		if lerr := p.ledger.Decrement(ctx, job.UserID, analyzed); lerr != nil {
			log.Warn("ledger_decrement_failed", zap.String("user_id", job.UserID), zap.Int("n", analyzed), zap.Error(lerr))
		}
	}
}

// run returns the result to store and how many files produced artifacts.
func (p *Pool) run(ctx context.Context, job *jobqueue.Job, log *zap.Logger) (any, int, error) {
	if len(job.Inputs) == 0 {
		return nil, 0, errNoInput
	}
	if job.Kind != jobqueue.QueueBatch {
		res, err := p.analyzer.AnalyzeFile(ctx, job.Inputs[0], analysis.FileOptions{
			OutputDir: filepath.Join(p.cfg.OutputDir, job.ID),
		})
		if err != nil {
			return nil, 0, err
		}
		n := 0
		if res.Status == analysis.StatusSuccess {
			n = 1
		}
		return res, n, nil
	}

	res, err := p.analyzer.AnalyzeBatch(ctx, job.ID, job.Inputs[0], func(i, total int, r analysis.FileResult) {
		raw, _ := json.Marshal(r)
		ev := jobqueue.Event{Type: jobqueue.EventFileDone, File: filepath.Base(r.MatPath), Index: i, Total: total, Result: raw}
		if err := p.queue.PushEvent(ctx, job.ID, ev); err != nil {
			log.Warn("job_event_push_failed", zap.Int("index", i), zap.Error(err))
		}
	})
	if err != nil {
		return nil, 0, err
	}
	return res, res.Succeeded(), nil
}

func (p *Pool) reapLoop(ctx context.Context) error {
	t := time.NewTicker(p.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.ReapOnce(ctx)
		}
	}
}

// ReapOnce recovers orphaned jobs and refreshes the queue gauges.
func (p *Pool) ReapOnce(ctx context.Context) {
	stats, err := p.queue.Reap(ctx, p.cfg.MaxAttempts)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("worker_reap_failed", zap.Error(err))
	}
	if stats.Requeued+stats.Failed > 0 {
		p.logger.Info("worker_reaped_jobs", zap.Int("requeued", stats.Requeued), zap.Int("failed", stats.Failed))
	}
	for _, q := range []string{jobqueue.QueueSingle, jobqueue.QueueBatch} {
		if n, err := p.queue.Length(ctx, q); err == nil {
			metrics.QueueLength.WithLabelValues(q).Set(float64(n))
		}
	}
}
