package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/gammon-analysis-bot/internal/analysis"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/msgcat"
	"github.com/park285/gammon-analysis-bot/internal/util"
)

// scriptedJobs replays one job snapshot per Get call; the last one repeats.
type scriptedJobs struct {
	mu     sync.Mutex
	states []*jobqueue.Job
	pos    []jobqueue.Position
	events [][]jobqueue.Event
	getErr error
	calls  int
}

func (s *scriptedJobs) Get(_ context.Context, _ string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	i := s.calls
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	s.calls++
	return s.states[i], nil
}

func (s *scriptedJobs) Position(_ context.Context, _ *jobqueue.Job) (jobqueue.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pos) == 0 {
		return jobqueue.Position{}, nil
	}
	p := s.pos[0]
	if len(s.pos) > 1 {
		s.pos = s.pos[1:]
	}
	return p, nil
}

func (s *scriptedJobs) PopEvents(_ context.Context, _ string) ([]jobqueue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil, nil
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

type countingGate struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGate) Release(context.Context, string, string) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return nil
}

type recordingSender struct {
	mu     sync.Mutex
	texts  []string
	images []string
}

func (r *recordingSender) SendText(_ context.Context, _ string, msg string) error {
	r.mu.Lock()
	r.texts = append(r.texts, msg)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) SendImage(_ context.Context, _ string, img string) error {
	r.mu.Lock()
	r.images = append(r.images, img)
	r.mu.Unlock()
	return nil
}

func newTestPoller(jobs JobSource, gate Releaser, out *recordingSender, maxImages int) *Poller {
	return NewPoller(Config{Interval: time.Millisecond, MaxImages: maxImages}, jobs, gate, NewPresenter(out), msgcat.MustNew(), nil)
}

func job(state jobqueue.State, kind string, result any) *jobqueue.Job {
	j := &jobqueue.Job{ID: "j1", Kind: kind, Queue: kind, State: state}
	if result != nil {
		b, _ := json.Marshal(result)
		j.Result = b
	}
	return j
}

func TestWatchSingleSuccessSendsSummaryAndImages(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("game_%02d.png", i)), []byte{byte(i)}, 0o644))
	}
	res := analysis.FileResult{Status: analysis.StatusSuccess, MatPath: "/in/match.mat", JSONPath: "/out/match.json", GamesDir: dir, HasGames: true, Games: 3}
	jobs := &scriptedJobs{
		states: []*jobqueue.Job{
			job(jobqueue.StateQueued, jobqueue.QueueSingle, nil),
			job(jobqueue.StateQueued, jobqueue.QueueSingle, nil),
			job(jobqueue.StateStarted, jobqueue.QueueSingle, nil),
			job(jobqueue.StateFinished, jobqueue.QueueSingle, res),
		},
		pos: []jobqueue.Position{{Ahead: 1, Running: 1, Workers: 1}, {Ahead: 1, Running: 1, Workers: 1}},
	}
	gate := &countingGate{}
	out := &recordingSender{}

	newTestPoller(jobs, gate, out, 2).Watch(context.Background(), Watch{JobID: "j1", UserID: "u1", Room: "r"})

	assert.Equal(t, 1, gate.calls)
	require.Len(t, out.texts, 3, "queued once, started once, summary once: %v", out.texts)
	assert.Contains(t, out.texts[0], "2번째")
	assert.Contains(t, out.texts[2], "match.mat")
	assert.Contains(t, out.texts[2], "/out/match.json")
	require.Len(t, out.images, 2, "capped at MaxImages")
	assert.Equal(t, "AQ==", out.images[0], "game_01 first, base64")
}

func TestWatchSingleNoGamesAndError(t *testing.T) {
	cases := []struct {
		name string
		res  analysis.FileResult
		want string
	}{
		{"no games", analysis.FileResult{Status: analysis.StatusSuccess, MatPath: "a.mat"}, "게임을 찾지 못했습니다"},
		{"error", analysis.FileResult{Status: analysis.StatusError, MatPath: "a.mat", Error: "boom"}, "boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &scriptedJobs{states: []*jobqueue.Job{job(jobqueue.StateFinished, jobqueue.QueueSingle, tc.res)}}
			out := &recordingSender{}
			newTestPoller(jobs, &countingGate{}, out, 5).Watch(context.Background(), Watch{JobID: "j1", UserID: "u", Room: "r"})
			require.Len(t, out.texts, 1)
			assert.Contains(t, out.texts[0], tc.want)
			assert.Empty(t, out.images)
		})
	}
}

func TestWatchBatchRelaysEventsAndFoldsSummary(t *testing.T) {
	results := make([]analysis.FileResult, 10)
	for i := range results {
		results[i] = analysis.FileResult{Status: analysis.StatusSuccess, MatPath: fmt.Sprintf("/x/%02d.mat", i), HasGames: true, Games: 1}
	}
	results[4] = analysis.FileResult{Status: analysis.StatusError, MatPath: "/x/04.mat", Error: "bad"}
	batch := analysis.BatchResult{BatchID: "j1", TotalFiles: 10, Results: results}
	fileRes, _ := json.Marshal(results[0])

	jobs := &scriptedJobs{
		states: []*jobqueue.Job{
			job(jobqueue.StateStarted, jobqueue.QueueBatch, nil),
			job(jobqueue.StateFinished, jobqueue.QueueBatch, batch),
		},
		events: [][]jobqueue.Event{{{Type: jobqueue.EventFileDone, File: "00.mat", Index: 1, Total: 10, Result: fileRes}}},
	}
	out := &recordingSender{}
	newTestPoller(jobs, &countingGate{}, out, 5).Watch(context.Background(), Watch{JobID: "j1", UserID: "u", Room: "r"})

	require.Len(t, out.texts, 3)
	// events drain before the state message of the same tick
	assert.Contains(t, out.texts[0], "[1/10] 00.mat")
	summary := out.texts[2]
	assert.Contains(t, summary, "9/10")
	assert.Contains(t, summary, util.KakaoZeroWidthSpace, "long summaries fold")
	assert.Contains(t, summary, "❌ bad")
}

func TestWatchFailedJob(t *testing.T) {
	j := job(jobqueue.StateFailed, jobqueue.QueueSingle, nil)
	j.Error = "job timeout after 10m0s"
	jobs := &scriptedJobs{states: []*jobqueue.Job{j}}
	gate := &countingGate{}
	out := &recordingSender{}
	newTestPoller(jobs, gate, out, 5).Watch(context.Background(), Watch{JobID: "j1", UserID: "u", Room: "r"})

	assert.Equal(t, 1, gate.calls)
	require.Len(t, out.texts, 1)
	assert.Contains(t, out.texts[0], "job timeout")
}

func TestWatchVanishedJobReleasesAndStops(t *testing.T) {
	jobs := &scriptedJobs{states: []*jobqueue.Job{nil}}
	gate := &countingGate{}
	out := &recordingSender{}
	newTestPoller(jobs, gate, out, 5).Watch(context.Background(), Watch{JobID: "j1", UserID: "u", Room: "r"})

	assert.Equal(t, 1, gate.calls)
	require.Len(t, out.texts, 1)
	assert.Contains(t, out.texts[0], "j1")
}

func TestWatchCancelledKeepsSlotForRunningJob(t *testing.T) {
	jobs := &scriptedJobs{states: []*jobqueue.Job{job(jobqueue.StateStarted, jobqueue.QueueSingle, nil)}}
	gate := &countingGate{}
	out := &recordingSender{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	newTestPoller(jobs, gate, out, 5).Watch(ctx, Watch{JobID: "j1", UserID: "u", Room: "r"})

	assert.Zero(t, gate.calls, "a job still in flight keeps its admission slot")
	require.Len(t, out.texts, 1, "only the started notice")
}

func TestWatchTransientErrorsAreSilent(t *testing.T) {
	jobs := &scriptedJobs{getErr: errors.New("redis down")}
	gate := &countingGate{}
	out := &recordingSender{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	newTestPoller(jobs, gate, out, 5).Watch(ctx, Watch{JobID: "j1", UserID: "u", Room: "r"})

	assert.Zero(t, gate.calls)
	assert.Empty(t, out.texts, "transient errors are not reported to the room")
}

func TestPresenterSkipsEmpty(t *testing.T) {
	out := &recordingSender{}
	p := NewPresenter(out)
	require.NoError(t, p.Text(context.Background(), "r", "  "))
	require.NoError(t, p.Image(context.Background(), "r", nil))
	assert.Empty(t, out.texts)
	assert.Empty(t, out.images)
}
