package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/gammon/script"
)

var (
	ErrEngineMissing = errf("engine binary not found")
	ErrSpawn         = errf("engine spawn failed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const (
	defaultCommandTimeout = 20 * time.Second
	defaultIdleTimeout    = 400 * time.Millisecond
	defaultExitTimeout    = 5 * time.Second
)

type Config struct {
	BinaryPath     string
	Args           []string
	CommandTimeout time.Duration
	IdleTimeout    time.Duration
	ExitTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ExitTimeout <= 0 {
		c.ExitTimeout = defaultExitTimeout
	}
	if len(c.Args) == 0 {
		c.Args = []string{"-t", "-q"}
	}
	return c
}

// Harvest is what a run collected, keyed by turn index.
type Harvest struct {
	Hints    map[int][]Hint `json:"hints"`
	Raw      map[int]string `json:"raw"`
	Timeouts int            `json:"timeouts"`
	Commands int            `json:"commands"`
}

func newHarvest() *Harvest {
	return &Harvest{Hints: make(map[int][]Hint), Raw: make(map[int]string)}
}

// Driver runs token streams. Every Run owns a fresh engine process.
type Driver struct {
	cfg    Config
	spawn  Spawner
	logger *zap.Logger

	// OnTimeout, when set, is called once per command that hit CommandTimeout.
	OnTimeout func()
}

func NewDriver(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{cfg: cfg.withDefaults(), logger: logger}
	d.spawn = d.spawnPTY
	return d
}

// WithSpawner replaces the process factory.
func (d *Driver) WithSpawner(sp Spawner) *Driver {
	d.spawn = sp
	return d
}

// CheckBinary reports ErrEngineMissing when the configured binary cannot be resolved.
func (d *Driver) CheckBinary() error {
	return checkBinary(d.cfg.BinaryPath)
}

func checkBinary(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: path not configured", ErrEngineMissing)
	}
	if strings.ContainsRune(path, os.PathSeparator) {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %v", ErrEngineMissing, err)
		}
		return nil
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineMissing, err)
	}
	return nil
}

func (d *Driver) spawnPTY(ctx context.Context) (Session, error) {
	if err := d.CheckBinary(); err != nil {
		return nil, err
	}
	s, err := StartPTY(d.cfg.BinaryPath, d.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	return s, nil
}

// Run executes tokens in order. Only a missing binary or a failed spawn is
// returned as an error; timeouts and unparsable output degrade the harvest.
func (d *Driver) Run(ctx context.Context, tokens []script.Token) (*Harvest, error) {
	sess, err := d.spawn(ctx)
	if err != nil {
		return nil, err
	}
	h := newHarvest()
	defer func() {
		exitCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ExitTimeout)
		defer cancel()
		if err := sess.Close(exitCtx); err != nil {
			d.logger.Warn("engine_close", zap.Error(err))
		}
	}()

	// banner
	if _, err := d.exchange(ctx, sess); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		d.logger.Debug("engine_banner", zap.Error(err))
	}

	for i, tok := range tokens {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("engine_run_cancelled", zap.Int("sent", i), zap.Int("total", len(tokens)))
			return h, nil
		}
		if err := sess.Send(tok.Command); err != nil {
			d.logger.Warn("engine_send", zap.String("command", tok.Command), zap.Error(err))
			return h, nil
		}
		h.Commands++

		var out []byte
		if tok.Kind == script.KindHint {
			out, err = d.exchangeHint(ctx, sess)
		} else {
			out, err = d.exchange(ctx, sess)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if ctx.Err() != nil {
				d.logger.Warn("engine_run_cancelled", zap.Int("sent", i+1), zap.Int("total", len(tokens)))
				return h, nil
			}
			h.Timeouts++
			if d.OnTimeout != nil {
				d.OnTimeout()
			}
			d.logger.Warn("engine_command_timeout", zap.String("command", tok.Command), zap.Int("target", tok.Target))
		}

		if tok.Kind == script.KindHint && tok.Target != script.NoTarget {
			text := CleanOutput(out)
			if hints := ParseHints(text); len(hints) > 0 {
				h.Hints[tok.Target] = append(h.Hints[tok.Target], hints...)
			} else if raw := strings.TrimSpace(rePrompt.ReplaceAllString(text, "")); raw != "" {
				h.Raw[tok.Target] = raw
			} else {
				h.Raw[tok.Target] = NoOutput
			}
		}

		if errors.Is(err, io.EOF) {
			d.logger.Warn("engine_exited_early", zap.Int("sent", i+1), zap.Int("total", len(tokens)))
			return h, nil
		}
	}
	return h, nil
}

// exchangeHint keeps draining until the prompt comes back or ranked hints
// have arrived. Evaluation can stay silent for longer than IdleTimeout.
func (d *Driver) exchangeHint(ctx context.Context, sess Session) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	var buf []byte
	for {
		out, err := sess.DrainUntilIdle(cctx, d.cfg.IdleTimeout)
		buf = append(buf, out...)
		if err != nil {
			return buf, err
		}
		text := CleanOutput(buf)
		if rePrompt.MatchString(text) || len(ParseHints(text)) > 0 {
			return buf, nil
		}
	}
}

// exchange drains one response, bounded by CommandTimeout.
func (d *Driver) exchange(ctx context.Context, sess Session) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	return sess.DrainUntilIdle(cctx, d.cfg.IdleTimeout)
}
