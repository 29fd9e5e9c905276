package analysis

import (
	"github.com/park285/gammon-analysis-bot/internal/gammon/board"
	"github.com/park285/gammon-analysis-bot/internal/gammon/engine"
	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

// Document is the JSON artifact written for one match.
type Document struct {
	Source         string           `json:"source"`
	Players        [2]string        `json:"players"`
	Length         int              `json:"length"`
	Variant        matchlog.Variant `json:"variant"`
	Inverse        bool             `json:"inverse"`
	CrawfordGame   int              `json:"crawford_game"`
	EmptySource    int              `json:"empty_source_moves"`
	EngineTimeouts int              `json:"engine_timeouts"`
	Games          []GameDoc        `json:"games"`
}

type GameDoc struct {
	Number   int              `json:"number"`
	Scores   [2]int           `json:"scores"`
	Crawford bool             `json:"crawford"`
	Winner   *matchlog.Result `json:"winner,omitempty"`
	Image    string           `json:"image,omitempty"`
	Turns    []TurnDoc        `json:"turns"`
}

// TurnDoc is a parsed turn plus the state after it and the engine's hints.
type TurnDoc struct {
	Index             int                `json:"index"`
	Number            int                `json:"number"`
	Player            matchlog.Player    `json:"player"`
	Action            matchlog.Action    `json:"action"`
	Dice              matchlog.Dice      `json:"dice"`
	Moves             []matchlog.Move    `json:"moves"`
	DoubledTo         int                `json:"doubled_to,omitempty"`
	Points            int                `json:"points,omitempty"`
	CubeOwner         matchlog.Player    `json:"cube_owner"`
	CubeValue         int                `json:"cube_value"`
	CubeLocation      board.CubeLocation `json:"cube_location"`
	Positions         board.Snapshot     `json:"positions"`
	InvertedPositions board.Snapshot     `json:"inverted_positions"`
	Hints             []engine.Hint      `json:"hints"`
	RawHint           string             `json:"raw_hint,omitempty"`
}

// buildDocument zips the match, its frames and the harvest together by flat turn index.
func buildDocument(source string, m *matchlog.Match, frames []board.Frame, diag board.Diagnostics, h *engine.Harvest) *Document {
	doc := &Document{
		Source:       source,
		Players:      m.Players,
		Length:       m.Length,
		Variant:      m.Variant,
		Inverse:      m.Inverse,
		CrawfordGame: m.CrawfordGame(),
		EmptySource:  diag.EmptySource,
		Games:        make([]GameDoc, 0, len(m.Games)),
	}
	if h == nil {
		h = &engine.Harvest{}
	}
	doc.EngineTimeouts = h.Timeouts

	index := 0
	for _, g := range m.Games {
		gd := GameDoc{Number: g.Number, Scores: g.Scores, Crawford: g.Crawford, Winner: g.Winner, Turns: make([]TurnDoc, 0, len(g.Turns))}
		for _, t := range g.Turns {
			td := TurnDoc{
				Index:     index,
				Number:    t.Number,
				Player:    t.Player,
				Action:    t.Action,
				Dice:      t.Dice,
				Moves:     t.Moves,
				DoubledTo: t.CubeValue,
				Points:    t.Points,
				Hints:     h.Hints[index],
				RawHint:   h.Raw[index],
			}
			if td.Moves == nil {
				td.Moves = []matchlog.Move{}
			}
			if td.Hints == nil {
				td.Hints = []engine.Hint{}
			}
			if index < len(frames) {
				f := frames[index]
				td.CubeOwner = f.Cube.Owner
				td.CubeValue = f.Cube.Value
				td.CubeLocation = f.Cube.Location
				td.Positions = f.Positions
				td.InvertedPositions = f.Inverted
			}
			gd.Turns = append(gd.Turns, td)
			index++
		}
		doc.Games = append(doc.Games, gd)
	}
	return doc
}
