package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/admission"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/ledger"
	"github.com/park285/gammon-analysis-bot/internal/msgcat"
	"github.com/park285/gammon-analysis-bot/internal/notify"
	"github.com/park285/gammon-analysis-bot/internal/submit"
)

type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*submit.Accepted, error)
}

type ActiveLister interface {
	Active(ctx context.Context, userID string) ([]string, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (*jobqueue.Job, error)
	Position(ctx context.Context, j *jobqueue.Job) (jobqueue.Position, error)
}

// Incoming is one chat line, already stripped of transport details.
type Incoming struct {
	Room   string
	UserID string
	Text   string
}

type Config struct {
	Prefix       string
	AllowedRooms []string
	// InputRoot confines requested paths. Relative paths are resolved under it.
	InputRoot string
}

var (
	singleExtensions = []string{".mat", ".txt"}
	batchExtensions  = []string{".zip"}
)

type command int

const (
	cmdUnknown command = iota
	cmdAnalyze
	cmdBatch
	cmdStatus
	cmdHelp
)

var commands = map[string]command{
	"분석":      cmdAnalyze,
	"analyze": cmdAnalyze,
	"일괄":      cmdBatch,
	"batch":   cmdBatch,
	"상태":      cmdStatus,
	"status":  cmdStatus,
	"도움말":     cmdHelp,
	"help":    cmdHelp,
}

type Handler struct {
	cfg    Config
	sub    Submitter
	active ActiveLister
	jobs   JobReader
	ledger ledger.Ledger
	out    *notify.Presenter
	cat    *msgcat.Catalog
	logger *zap.Logger
}

func NewHandler(cfg Config, sub Submitter, active ActiveLister, jobs JobReader, l ledger.Ledger, out *notify.Presenter, cat *msgcat.Catalog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l == nil {
		l = ledger.Noop{}
	}
	if cfg.InputRoot == "" {
		cfg.InputRoot = "."
	}
	if abs, err := filepath.Abs(cfg.InputRoot); err == nil {
		cfg.InputRoot = abs
	}
	return &Handler{cfg: cfg, sub: sub, active: active, jobs: jobs, ledger: l, out: out, cat: cat, logger: logger}
}

// Accepts reports whether the line is a command for this bot in an allowed room.
func (h *Handler) Accepts(in Incoming) bool {
	if !strings.HasPrefix(strings.TrimSpace(in.Text), h.cfg.Prefix) {
		return false
	}
	if len(h.cfg.AllowedRooms) > 0 && !lo.Contains(h.cfg.AllowedRooms, in.Room) {
		h.logger.Debug("room_not_allowed", zap.String("room", in.Room))
		return false
	}
	return true
}

// Handle runs one command and replies in the same room.
func (h *Handler) Handle(ctx context.Context, in Incoming) {
	if !h.Accepts(in) {
		return
	}
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(in.Text), h.cfg.Prefix))
	name, arg, _ := strings.Cut(raw, " ")
	arg = strings.TrimSpace(arg)
	prefix := map[string]any{"Prefix": h.cfg.Prefix}

	switch commands[strings.ToLower(name)] {
	case cmdHelp:
		h.reply(ctx, in.Room, h.cat.Text("help.text", prefix, "help"))
	case cmdAnalyze:
		h.submit(ctx, in, jobqueue.QueueSingle, arg, singleExtensions, "submit.usage_single")
	case cmdBatch:
		h.submit(ctx, in, jobqueue.QueueBatch, arg, batchExtensions, "submit.usage_batch")
	case cmdStatus:
		h.status(ctx, in)
	default:
		if name == "" {
			h.reply(ctx, in.Room, h.cat.Text("help.text", prefix, "help"))
			return
		}
		h.reply(ctx, in.Room, h.cat.Text("error.unknown_command", prefix, "unknown command"))
	}
}

func (h *Handler) submit(ctx context.Context, in Incoming, kind, path string, allowed []string, usageKey string) {
	if path == "" {
		h.reply(ctx, in.Room, h.cat.Text(usageKey, map[string]any{"Prefix": h.cfg.Prefix}, "usage"))
		return
	}
	if !lo.Contains(allowed, strings.ToLower(filepath.Ext(path))) {
		h.reply(ctx, in.Room, h.cat.Text("submit.bad_extension", map[string]any{
			"Path": path, "Allowed": strings.Join(allowed, ", "),
		}, "unsupported file"))
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		h.reply(ctx, in.Room, h.cat.Text("submit.no_user", nil, "unknown user"))
		return
	}
	resolved, ok := h.resolve(path)
	if !ok {
		h.logger.Warn("submit_path_outside_root", zap.String("user_id", in.UserID), zap.String("path", path))
		h.reply(ctx, in.Room, h.cat.Text("submit.outside_root", map[string]any{"Path": path}, "path not allowed"))
		return
	}

	acc, err := h.sub.Submit(ctx, submit.Request{UserID: in.UserID, Room: in.Room, Kind: kind, Inputs: []string{resolved}})
	switch {
	case errors.Is(err, admission.ErrBusy):
		h.reply(ctx, in.Room, h.cat.Text("submit.busy", nil, "busy"))
	case err != nil:
		h.logger.Warn("submit_failed", zap.String("user_id", in.UserID), zap.Error(err))
		h.reply(ctx, in.Room, h.cat.Text("submit.failed", map[string]any{"Error": err.Error()}, "submit failed"))
	default:
		h.reply(ctx, in.Room, h.cat.Text("submit.accepted", map[string]any{"JobID": acc.JobID, "Kind": acc.Queue}, "accepted "+acc.JobID))
	}
}

// resolve maps a requested path into InputRoot. Anything that escapes it is refused.
func (h *Handler) resolve(p string) (string, bool) {
	root := h.cfg.InputRoot
	target := filepath.Clean(p)
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func (h *Handler) status(ctx context.Context, in Incoming) {
	var lines []string
	ids, err := h.active.Active(ctx, in.UserID)
	if err != nil {
		h.logger.Warn("status_active_failed", zap.Error(err))
	}
	for _, id := range ids {
		if line := h.jobLine(ctx, id); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, h.cat.Text("status.idle", nil, "idle"))
	}
	if bal, err := h.ledger.Balance(ctx, in.UserID); err == nil && bal >= 0 {
		lines = append(lines, h.cat.Text("status.balance", map[string]any{"Balance": bal}, ""))
	}
	h.reply(ctx, in.Room, strings.Join(lo.Compact(lines), "\n"))
}

func (h *Handler) jobLine(ctx context.Context, id string) string {
	j, err := h.jobs.Get(ctx, id)
	if err != nil || j == nil {
		return ""
	}
	if j.State == jobqueue.StateQueued {
		if pos, err := h.jobs.Position(ctx, j); err == nil {
			return h.cat.Text("status.queued", map[string]any{"JobID": j.ID, "Place": pos.Place()}, j.ID)
		}
	}
	return h.cat.Text("status.active", map[string]any{"JobID": j.ID, "State": string(j.State)}, j.ID)
}

func (h *Handler) reply(ctx context.Context, room, text string) {
	if err := h.out.Text(ctx, room, text); err != nil {
		h.logger.Warn("reply_failed", zap.String("room", room), zap.Error(err))
	}
}
