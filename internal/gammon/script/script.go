package script

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

// Kind tells the driver whether a command's output is harvested.
type Kind string

const (
	KindCmd  Kind = "cmd"
	KindHint Kind = "hint"
)

// NoTarget marks tokens that do not belong to a turn.
const NoTarget = -1

// Continue is sent after a move so the engine advances to the next roll.
const Continue = "roll"

// Token is one engine command. Target is the flat turn index across the match.
type Token struct {
	Command string `json:"command"`
	Kind    Kind   `json:"kind"`
	Target  int    `json:"target"`
}

func cmd(c string, target int) Token { return Token{Command: c, Kind: KindCmd, Target: target} }
func hint(target int) Token         { return Token{Command: "hint", Kind: KindHint, Target: target} }

type Options struct {
	Seed int64
}

// Generate compiles the match into an engine script.
//
// For each move turn with dice it emits, in order: set dice, hint (harvested for
// that turn), move (when there are moves) and, when the following turn of the
// same game is neither a cube action nor a win, the continue command. Cube turns
// map to double/take/drop. A win starts the next game unless it is the last one.
func Generate(m *matchlog.Match, opt Options) []Token {
	if m == nil {
		return nil
	}
	out := bootstrap(m, opt)

	index := 0
	for gi, g := range m.Games {
		steps := make([]step, 0, len(g.Turns))
		for _, t := range g.Turns {
			steps = append(steps, step{index: index, turn: t})
			index++
		}
		markContinues(steps)
		for _, s := range steps {
			out = append(out, s.tokens(gi == len(m.Games)-1)...)
		}
	}
	return out
}

func bootstrap(m *matchlog.Match, opt Options) []Token {
	seed := opt.Seed
	if seed == 0 {
		seed = 1
	}
	toks := []Token{
		cmd("set automatic game off", NoTarget),
		cmd("set automatic roll off", NoTarget),
		cmd("set rng mersenne", NoTarget),
		cmd(fmt.Sprintf("set seed %d", seed), NoTarget),
		cmd("set player 0 name "+engineName(m.Players[0], "player1"), NoTarget),
		cmd("set player 1 name "+engineName(m.Players[1], "player2"), NoTarget),
		cmd("set player 0 human", NoTarget),
		cmd("set player 1 human", NoTarget),
	}
	if m.Length > 0 {
		toks = append(toks, cmd(fmt.Sprintf("new match %d", m.Length), NoTarget))
	} else {
		toks = append(toks, cmd("new session", NoTarget))
	}
	return toks
}

// engineName strips characters the engine's command line would split on.
func engineName(name, fallback string) string {
	f := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '"' || r == '\''
	})
	if len(f) == 0 {
		return fallback
	}
	return strings.Join(f, "_")
}

type step struct {
	index   int
	turn    matchlog.Turn
	advance bool
}

// markContinues is the lookahead pass: a move turn gets a continue command only
// when the next turn in the game is another roll.
func markContinues(steps []step) {
	for i := range steps {
		if steps[i].turn.Action != matchlog.ActionMove {
			continue
		}
		if i+1 >= len(steps) {
			continue
		}
		next := steps[i+1].turn.Action
		steps[i].advance = !next.IsCube() && next != matchlog.ActionWin
	}
}

func (s step) tokens(lastGame bool) []Token {
	t := s.turn
	switch t.Action {
	case matchlog.ActionDouble:
		return []Token{cmd("double", s.index)}
	case matchlog.ActionTake:
		return []Token{cmd("take", s.index)}
	case matchlog.ActionDrop:
		return []Token{cmd("drop", s.index)}
	case matchlog.ActionWin:
		if lastGame {
			return nil
		}
		return []Token{cmd("new game", s.index)}
	}

	if t.Dice.IsZero() {
		return nil
	}
	toks := []Token{
		cmd(fmt.Sprintf("set dice %d%d", t.Dice[0], t.Dice[1]), s.index),
		hint(s.index),
	}
	if len(t.Moves) > 0 {
		toks = append(toks, cmd("move "+FormatMoves(t.Moves), s.index))
	}
	if s.advance {
		toks = append(toks, cmd(Continue, NoTarget))
	}
	return toks
}

// FormatMoves writes moves the way the engine's move command reads them.
func FormatMoves(moves []matchlog.Move) string {
	return strings.Join(lo.Map(moves, func(m matchlog.Move, _ int) string {
		from := fmt.Sprintf("%d", m.From)
		if m.From == matchlog.Bar {
			from = "bar"
		}
		to := fmt.Sprintf("%d", m.To)
		if m.To == matchlog.Off {
			to = "off"
		}
		if m.Hit {
			to += "*"
		}
		return from + "/" + to
	}), " ")
}

// HintTargets lists the targets of hint tokens in order.
func HintTargets(tokens []Token) []int {
	return lo.FilterMap(tokens, func(t Token, _ int) (int, bool) {
		return t.Target, t.Kind == KindHint
	})
}
