package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/gammon/board"
	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
	"github.com/park285/gammon-analysis-bot/internal/gammon/script"
	"github.com/park285/gammon-analysis-bot/internal/metrics"
	"github.com/park285/gammon-analysis-bot/internal/render"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// FileResult is the per-file outcome stored as a job result.
type FileResult struct {
	Status   string `json:"status"`
	MatPath  string `json:"matPath"`
	JSONPath string `json:"jsonPath,omitempty"`
	GamesDir string `json:"gamesDir,omitempty"`
	HasGames bool   `json:"hasGames"`
	Games    int    `json:"games,omitempty"`
	Error    string `json:"error,omitempty"`
}

func errorResult(path string, err error) FileResult {
	return FileResult{Status: StatusError, MatPath: path, Error: err.Error()}
}

// Engine runs a token script and returns what it harvested.
type Engine interface {
	Run(ctx context.Context, tokens []script.Token) (*engine.Harvest, error)
}

// Waiter blocks until a path is readable locally.
type Waiter interface {
	Wait(ctx context.Context, path string) error
}

type Config struct {
	OutputDir string
	Seed      int64
}

type Pipeline struct {
	cfg      Config
	waiter   Waiter
	engine   Engine
	renderer render.Renderer
	logger   *zap.Logger
}

func NewPipeline(cfg Config, waiter Waiter, eng Engine, renderer render.Renderer, logger *zap.Logger) *Pipeline {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = "output"
	}
	if renderer == nil {
		renderer = render.NewRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, waiter: waiter, engine: eng, renderer: renderer, logger: logger}
}

type FileOptions struct {
	// OutputDir overrides <OutputDir>/<stem>.
	OutputDir string
}

// AnalyzeFile waits for path, analyzes it and writes the artifacts.
// A returned error means the job itself cannot succeed (file never arrived,
// engine missing or unspawnable, job deadline). Anything else is reported in
// the FileResult.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string, opts FileOptions) (FileResult, error) {
	if p.waiter != nil {
		if err := p.waiter.Wait(ctx, path); err != nil {
			return errorResult(path, err), err
		}
	}
	return p.analyzeLocal(ctx, path, opts)
}

func (p *Pipeline) analyzeLocal(ctx context.Context, path string, opts FileOptions) (FileResult, error) {
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Join(p.cfg.OutputDir, stem(path))
	}
	log := p.logger.With(zap.String("path", path))

	m, err := matchlog.ParseFile(path)
	if errors.Is(err, matchlog.ErrNoGames) {
		log.Info("analysis_no_games")
		m = &matchlog.Match{Variant: matchlog.VariantShort}
	} else if err != nil {
		return errorResult(path, err), nil
	}

	frames, diag := board.ReplayMatch(m, log)
	if diag.EmptySource > 0 {
		metrics.TrackerEmptySourceTotal.Add(float64(diag.EmptySource))
	}

	var harvest *engine.Harvest
	if len(m.Games) > 0 {
		tokens := script.Generate(m, script.Options{Seed: p.cfg.Seed})
		harvest, err = p.engine.Run(ctx, tokens)
		if err != nil {
			return errorResult(path, err), fmt.Errorf("run engine on %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return errorResult(path, err), fmt.Errorf("analysis of %s: %w", path, err)
		}
	}

	doc := buildDocument(filepath.Base(path), m, frames, diag, harvest)

	gamesDir := filepath.Join(outDir, "games")
	if err := os.MkdirAll(gamesDir, 0o755); err != nil {
		return errorResult(path, err), fmt.Errorf("create %s: %w", gamesDir, err)
	}
	p.renderGames(m, frames, doc, gamesDir, log)

	jsonPath := filepath.Join(outDir, stem(path)+".json")
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errorResult(path, err), nil
	}
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return errorResult(path, err), fmt.Errorf("write %s: %w", jsonPath, err)
	}

	log.Info("analysis_file_done",
		zap.Int("games", len(m.Games)),
		zap.Int("turns", m.TurnCount()),
		zap.Int("empty_source", diag.EmptySource),
		zap.Int("engine_timeouts", doc.EngineTimeouts),
	)
	return FileResult{
		Status:   StatusSuccess,
		MatPath:  path,
		JSONPath: jsonPath,
		GamesDir: gamesDir,
		HasGames: len(m.Games) > 0,
		Games:    len(m.Games),
	}, nil
}

// renderGames draws the final position of each game. A failed render only loses that image.
func (p *Pipeline) renderGames(m *matchlog.Match, frames []board.Frame, doc *Document, dir string, log *zap.Logger) {
	index := 0
	for gi, g := range m.Games {
		index += len(g.Turns)
		if len(g.Turns) == 0 || index > len(frames) {
			continue
		}
		img, err := p.renderer.RenderPNG(frames[index-1], gameLabels(m, g))
		if err != nil {
			log.Warn("analysis_render_failed", zap.Int("game", g.Number), zap.Error(err))
			continue
		}
		name := fmt.Sprintf("game_%02d.png", g.Number)
		if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
			log.Warn("analysis_render_write_failed", zap.Int("game", g.Number), zap.Error(err))
			continue
		}
		doc.Games[gi].Image = filepath.Join("games", name)
	}
}

func gameLabels(m *matchlog.Match, g matchlog.Game) render.Labels {
	title := fmt.Sprintf("%s vs %s", m.Players[0], m.Players[1])
	if m.Length > 0 {
		title += fmt.Sprintf(" (%d point match)", m.Length)
	}
	sub := fmt.Sprintf("Game %d  %d-%d", g.Number, g.Scores[0], g.Scores[1])
	if g.Crawford {
		sub += "  Crawford"
	}
	if g.Winner != nil && g.Winner.Player.Index() >= 0 {
		sub += fmt.Sprintf("  %s wins %d", m.Players[g.Winner.Player.Index()], g.Winner.Points)
	}
	return render.Labels{Title: title, Subtitle: sub}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
