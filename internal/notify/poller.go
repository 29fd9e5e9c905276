package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/analysis"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/msgcat"
	"github.com/park285/gammon-analysis-bot/internal/util"
)

// JobSource is the read side of jobqueue.Store.
type JobSource interface {
	Get(ctx context.Context, id string) (*jobqueue.Job, error)
	Position(ctx context.Context, j *jobqueue.Job) (jobqueue.Position, error)
	PopEvents(ctx context.Context, id string) ([]jobqueue.Event, error)
}

// Releaser frees a user's admission slot.
type Releaser interface {
	Release(ctx context.Context, userID, jobID string) error
}

// Watch identifies one submitted job and where to report on it.
type Watch struct {
	JobID  string
	UserID string
	Room   string
}

type Config struct {
	Interval  time.Duration
	MaxImages int
}

type Poller struct {
	jobs      JobSource
	gate      Releaser
	out       *Presenter
	cat       *msgcat.Catalog
	interval  time.Duration
	maxImages int
	logger    *zap.Logger
}

func NewPoller(cfg Config, jobs JobSource, gate Releaser, out *Presenter, cat *msgcat.Catalog, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{jobs: jobs, gate: gate, out: out, cat: cat, interval: cfg.Interval, maxImages: cfg.MaxImages, logger: logger}
}

// watchState is what one Watch remembers between ticks.
type watchState struct {
	lastPlace int64
	started   bool
}

// Watch polls until the job is terminal, vanishes or ctx ends. The user's slot
// is released once the job is terminal or gone. A cancelled watch keeps the slot
// so a restarted bot can resume it; the slot TTL bounds an abandoned one.
func (p *Poller) Watch(ctx context.Context, w Watch) {
	log := p.logger.With(zap.String("job_id", w.JobID), zap.String("user_id", w.UserID))
	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := p.gate.Release(rctx, w.UserID, w.JobID); err != nil {
				log.Warn("notify_release_failed", zap.Error(err))
			}
		})
	}

	st := &watchState{lastPlace: -1}
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if p.tick(ctx, w, st, release, log) {
			return
		}
		select {
		case <-ctx.Done():
			log.Info("notify_watch_detached")
			return
		case <-t.C:
		}
	}
}

// tick returns true when watching is over.
func (p *Poller) tick(ctx context.Context, w Watch, st *watchState, release func(), log *zap.Logger) bool {
	j, err := p.jobs.Get(ctx, w.JobID)
	if err != nil {
		log.Warn("notify_poll_failed", zap.Error(err))
		return ctx.Err() != nil
	}
	if j == nil {
		log.Warn("notify_job_vanished")
		release()
		p.send(ctx, w.Room, p.cat.Text("notify.vanished", map[string]any{"JobID": w.JobID}, "작업 기록이 사라졌습니다: "+w.JobID), log)
		return true
	}

	p.deliverEvents(ctx, w, log)

	switch j.State {
	case jobqueue.StateQueued:
		pos, err := p.jobs.Position(ctx, j)
		if err != nil {
			log.Debug("notify_position_failed", zap.Error(err))
			return false
		}
		if pos.Place() != st.lastPlace {
			st.lastPlace = pos.Place()
			p.send(ctx, w.Room, p.cat.Text("notify.queued", map[string]any{
				"Place": pos.Place(), "Ahead": pos.Ahead, "Running": pos.Running, "Workers": pos.Workers,
			}, fmt.Sprintf("대기 %d번째", pos.Place())), log)
		}
	case jobqueue.StateStarted:
		if !st.started {
			st.started = true
			log.Debug("notify_job_started", zap.String("worker", j.Worker))
			p.send(ctx, w.Room, p.cat.Text("notify.started", map[string]any{"JobID": j.ID}, "분석 시작: "+j.ID), log)
		}
	case jobqueue.StateFinished:
		release()
		p.deliverResult(ctx, w, j, log)
		return true
	case jobqueue.StateFailed:
		release()
		p.send(ctx, w.Room, p.cat.Text("notify.failed", map[string]any{"JobID": j.ID, "Error": j.Error}, "분석 실패: "+j.Error), log)
		return true
	}
	return false
}

func (p *Poller) deliverEvents(ctx context.Context, w Watch, log *zap.Logger) {
	evs, err := p.jobs.PopEvents(ctx, w.JobID)
	if err != nil {
		log.Debug("notify_events_failed", zap.Error(err))
		return
	}
	for _, ev := range evs {
		if ev.Type != jobqueue.EventFileDone {
			continue
		}
		var r analysis.FileResult
		_ = json.Unmarshal(ev.Result, &r)
		p.send(ctx, w.Room, p.cat.Text("notify.file_done", map[string]any{
			"Index": ev.Index, "Total": ev.Total, "File": ev.File,
			"OK": r.Status == analysis.StatusSuccess, "Error": r.Error,
		}, fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.File)), log)
	}
}

func (p *Poller) deliverResult(ctx context.Context, w Watch, j *jobqueue.Job, log *zap.Logger) {
	if j.Kind == jobqueue.QueueBatch {
		var res analysis.BatchResult
		if err := json.Unmarshal(j.Result, &res); err != nil {
			log.Warn("notify_result_decode", zap.Error(err))
			return
		}
		p.send(ctx, w.Room, p.batchSummary(res), log)
		return
	}

	var res analysis.FileResult
	if err := json.Unmarshal(j.Result, &res); err != nil {
		log.Warn("notify_result_decode", zap.Error(err))
		return
	}
	file := filepath.Base(res.MatPath)
	switch {
	case res.Status != analysis.StatusSuccess:
		p.send(ctx, w.Room, p.cat.Text("notify.single_error", map[string]any{"File": file, "Error": res.Error}, file+" 분석 실패"), log)
	case !res.HasGames:
		p.send(ctx, w.Room, p.cat.Text("notify.single_no_games", map[string]any{"File": file}, file+": 게임 없음"), log)
	default:
		p.send(ctx, w.Room, p.cat.Text("notify.single_done", map[string]any{"File": file, "Games": res.Games, "JSONPath": res.JSONPath}, file+" 분석 완료"), log)
		p.sendImages(ctx, w.Room, res.GamesDir, log)
	}
}

func (p *Poller) batchSummary(res analysis.BatchResult) string {
	header := p.cat.Text("notify.batch_header", map[string]any{"Succeeded": res.Succeeded(), "Total": res.TotalFiles},
		fmt.Sprintf("일괄 분석 완료 %d/%d", res.Succeeded(), res.TotalFiles))
	lines := lo.Map(res.Results, func(r analysis.FileResult, i int) string {
		file := filepath.Base(r.MatPath)
		return p.cat.Text("notify.batch_line", map[string]any{
			"Index": i + 1, "File": file, "OK": r.Status == analysis.StatusSuccess, "Games": r.Games, "Error": r.Error,
		}, fmt.Sprintf("%d. %s", i+1, file))
	})
	return util.FoldLongMessage(header, lines, p.cat.Text("notify.see_more", nil, ""))
}

// sendImages follows the summary with up to maxImages game boards.
func (p *Poller) sendImages(ctx context.Context, room, dir string, log *zap.Logger) {
	if dir == "" {
		return
	}
	paths, err := filepath.Glob(filepath.Join(dir, "game_*.png"))
	if err != nil || len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	for _, path := range lo.Slice(paths, 0, p.maxImages) {
		img, err := os.ReadFile(path)
		if err != nil {
			log.Warn("notify_image_read", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := p.out.Image(ctx, room, img); err != nil {
			log.Warn("notify_image_send", zap.String("path", path), zap.Error(err))
		}
	}
}

func (p *Poller) send(ctx context.Context, room, text string, log *zap.Logger) {
	if err := p.out.Text(ctx, room, text); err != nil {
		log.Warn("notify_send_failed", zap.String("room", room), zap.Error(err))
	}
}
