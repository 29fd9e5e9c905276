// gammoncheck parses a match log locally and prints what the worker would see:
// turns, replayed positions, the engine script and optionally the engine hints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/park285/gammon-analysis-bot/internal/gammon/board"
	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
	"github.com/park285/gammon-analysis-bot/internal/gammon/script"
	"github.com/park285/gammon-analysis-bot/internal/irisfast"
	"github.com/park285/gammon-analysis-bot/internal/obslog"
	"github.com/park285/gammon-analysis-bot/internal/render"
)

type options struct {
	positions bool
	tokens    bool
	runEngine bool
	gnubg     string
	pngDir    string
	seed      int64
	iris      string
	verbose   bool
}

func main() {
	var o options
	flag.BoolVar(&o.positions, "positions", false, "print the board after every turn")
	flag.BoolVar(&o.tokens, "tokens", false, "print the engine command script")
	flag.BoolVar(&o.runEngine, "engine", false, "run the engine and print harvested hints")
	flag.StringVar(&o.gnubg, "gnubg", envOr("GNUBG_PATH", "gnubg"), "engine binary")
	flag.StringVar(&o.pngDir, "png", "", "render the last position of each game into this directory")
	flag.Int64Var(&o.seed, "seed", 0, "engine seed (0 keeps the engine default)")
	flag.StringVar(&o.iris, "iris", "", "Iris base URL to probe with GET /config, then exit")
	flag.BoolVar(&o.verbose, "v", false, "debug logging to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: gammoncheck [flags] <match.mat|match.txt>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(os.Stdout, o, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "gammoncheck:", err)
		os.Exit(1)
	}
}

func run(w io.Writer, o options, args []string) error {
	level := zapcore.WarnLevel
	if o.verbose {
		level = zapcore.DebugLevel
	}
	logger := obslog.NewForWriter(os.Stderr, "console", level)

	if o.iris != "" {
		return probeIris(w, o.iris)
	}
	if len(args) != 1 {
		flag.Usage()
		return fmt.Errorf("expected one log file")
	}

	m, err := matchlog.ParseFile(args[0])
	if err != nil {
		return err
	}
	frames, diag := board.ReplayMatch(m, logger)

	fmt.Fprintf(w, "players: %s vs %s  length: %d  variant: %s  inverse: %v  crawford: %d\n",
		m.Players[0], m.Players[1], m.Length, m.Variant, m.Inverse, m.CrawfordGame())
	idx := 0
	for _, g := range m.Games {
		fmt.Fprintf(w, "\ngame %d  score %d-%d", g.Number, g.Scores[0], g.Scores[1])
		if g.Winner != nil {
			fmt.Fprintf(w, "  winner %s (+%d)", g.Winner.Player, g.Winner.Points)
		}
		fmt.Fprintln(w)
		for _, t := range g.Turns {
			fmt.Fprintf(w, "  [%3d] %2d %-10s %-6s %s %s\n", idx, t.Number, t.Player, t.Action, diceText(t.Dice), script.FormatMoves(t.Moves))
			if o.positions {
				fmt.Fprintf(w, "        %s  cube %d@%s\n", frames[idx].Positions, frames[idx].Cube.Value, frames[idx].Cube.Location)
			}
			idx++
		}
	}
	fmt.Fprintf(w, "\nturns: %d  empty-source moves: %d\n", m.TurnCount(), diag.EmptySource)

	tokens := script.Generate(m, script.Options{Seed: o.seed})
	if o.tokens {
		fmt.Fprintln(w, "\nscript:")
		for _, t := range tokens {
			fmt.Fprintf(w, "  %-5s %4d  %s\n", t.Kind, t.Target, t.Command)
		}
	}

	if o.pngDir != "" {
		if err := writeImages(w, m, frames, o.pngDir); err != nil {
			return err
		}
	}

	if o.runEngine {
		d := engine.NewDriver(engine.Config{BinaryPath: o.gnubg}, logger)
		h, err := d.Run(context.Background(), tokens)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		fmt.Fprintf(w, "\nengine: %d commands, %d timeouts\n", h.Commands, h.Timeouts)
		return enc.Encode(h.Hints)
	}
	return nil
}

func writeImages(w io.Writer, m *matchlog.Match, frames []board.Frame, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	r := render.NewRenderer()
	end := 0
	for i, g := range m.Games {
		end += len(g.Turns)
		if len(g.Turns) == 0 {
			continue
		}
		png, err := r.RenderPNG(frames[end-1], render.Labels{
			Title:    fmt.Sprintf("Game %d", g.Number),
			Subtitle: m.Players[0] + " vs " + m.Players[1],
		})
		if err != nil {
			return err
		}
		path := filepath.Join(dir, fmt.Sprintf("game_%02d.png", i+1))
		if err := os.WriteFile(path, png, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(w, "wrote", path)
	}
	return nil
}

func probeIris(w io.Writer, baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := irisfast.NewClient(baseURL, irisfast.WithTimeout(5*time.Second), irisfast.WithRetry(1, 0)).GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("/config: %w", err)
	}
	fmt.Fprintf(w, "/config ok: bot=%s port=%d polling=%d rate=%d endpoint=%s\n",
		cfg.BotName, cfg.BotHTTPPort, cfg.DBPollingRate, cfg.MessageSendRate, cfg.WebServerEndpoint)
	return nil
}

func diceText(d matchlog.Dice) string {
	if d.IsZero() {
		return "  "
	}
	return d.String()
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
