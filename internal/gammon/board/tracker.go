package board

import (
	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

// CubeLocation is where the doubling cube sits.
type CubeLocation string

const (
	CubeCenter    CubeLocation = "center"
	CubePlayerOne CubeLocation = "player_one"
	CubePlayerTwo CubeLocation = "player_two"
)

func cubeLocationOf(p matchlog.Player) CubeLocation {
	switch p {
	case matchlog.PlayerOne:
		return CubePlayerOne
	case matchlog.PlayerTwo:
		return CubePlayerTwo
	default:
		return CubeCenter
	}
}

type Cube struct {
	Value    int             `json:"value"`
	Owner    matchlog.Player `json:"owner"`
	Location CubeLocation    `json:"location"`
}

func centeredCube() Cube { return Cube{Value: 1, Owner: matchlog.PlayerNone, Location: CubeCenter} }

// Diagnostics counts recoveries the tracker made while replaying.
type Diagnostics struct {
	// EmptySource counts moves dropped because their source held no checker.
	EmptySource int `json:"empty_source"`
}

// Tracker replays turns against the absolute board. It is not safe for concurrent use.
type Tracker struct {
	variant matchlog.Variant
	snap    Snapshot
	cube    Cube
	diag    Diagnostics
	logger  *zap.Logger
}

func NewTracker(variant matchlog.Variant, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if variant == "" {
		variant = matchlog.VariantShort
	}
	return &Tracker{variant: variant, snap: Start(variant), cube: centeredCube(), logger: logger}
}

// Reset puts the board and cube back to the start of a game. Diagnostics are kept.
func (t *Tracker) Reset() {
	t.snap = Start(t.variant)
	t.cube = centeredCube()
}

func (t *Tracker) Snapshot() Snapshot { return t.snap.Clone() }

func (t *Tracker) Cube() Cube { return t.cube }

func (t *Tracker) Diagnostics() Diagnostics { return t.diag }

// ApplyMove moves one checker. The move is in the mover's own numbering.
// A move whose source is empty leaves the board untouched and returns false.
func (t *Tracker) ApplyMove(p matchlog.Player, m matchlog.Move) bool {
	idx := p.Index()
	if idx < 0 {
		return false
	}
	side := &t.snap.Sides[idx]

	if m.From == matchlog.Bar {
		if side.Bar <= 0 {
			t.emptySource(p, m)
			return false
		}
		side.Bar--
	} else {
		from := toAbsolute(t.variant, p, m.From)
		if side.Points[from] <= 0 {
			t.emptySource(p, m)
			return false
		}
		side.add(from, -1)
	}

	if m.To == matchlog.Off {
		side.Off++
		return true
	}

	to := toAbsolute(t.variant, p, m.To)
	if m.Hit {
		opp := &t.snap.Sides[p.Opponent().Index()]
		if opp.Points[to] == 1 {
			opp.add(to, -1)
			opp.Bar++
		}
	}
	side.add(to, 1)
	return true
}

func (t *Tracker) emptySource(p matchlog.Player, m matchlog.Move) {
	t.diag.EmptySource++
	t.logger.Debug("tracker_empty_source",
		zap.String("player", p.String()),
		zap.String("move", m.String()),
	)
}

// Apply folds a whole turn into the state.
func (t *Tracker) Apply(turn matchlog.Turn) {
	switch turn.Action {
	case matchlog.ActionMove:
		for _, m := range turn.Moves {
			t.ApplyMove(turn.Player, m)
		}
	case matchlog.ActionDouble:
		v := turn.CubeValue
		if v <= t.cube.Value {
			v = t.cube.Value * 2
		}
		opp := turn.Player.Opponent()
		t.cube = Cube{Value: v, Owner: opp, Location: cubeLocationOf(opp)}
	}
}

// Frame is the state captured after one turn.
type Frame struct {
	Positions Snapshot
	Inverted  Snapshot
	Cube      Cube
}

// Replay resets the tracker and returns one frame per turn of the game.
func (t *Tracker) Replay(g matchlog.Game) []Frame {
	t.Reset()
	frames := make([]Frame, 0, len(g.Turns))
	for _, turn := range g.Turns {
		t.Apply(turn)
		snap := t.Snapshot()
		frames = append(frames, Frame{Positions: snap, Inverted: snap.Invert(), Cube: t.cube})
	}
	return frames
}

// ReplayMatch replays every game and returns frames in flat turn order.
func ReplayMatch(m *matchlog.Match, logger *zap.Logger) ([]Frame, Diagnostics) {
	t := NewTracker(m.Variant, logger)
	frames := make([]Frame, 0, m.TurnCount())
	for _, g := range m.Games {
		frames = append(frames, t.Replay(g)...)
	}
	return frames, t.Diagnostics()
}
