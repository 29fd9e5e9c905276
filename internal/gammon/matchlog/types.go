package matchlog

import "fmt"

// Player identifies one of the two seats of a match log.
type Player int

const (
	PlayerNone Player = iota
	PlayerOne
	PlayerTwo
)

// Index maps the player to a 0-based slot. PlayerNone maps to -1.
func (p Player) Index() int {
	switch p {
	case PlayerOne:
		return 0
	case PlayerTwo:
		return 1
	default:
		return -1
	}
}

func (p Player) Opponent() Player {
	switch p {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	default:
		return PlayerNone
	}
}

func (p Player) String() string {
	switch p {
	case PlayerOne:
		return "player_one"
	case PlayerTwo:
		return "player_two"
	default:
		return "none"
	}
}

func (p Player) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// PlayerFromIndex is the inverse of Index.
func PlayerFromIndex(i int) Player {
	switch i {
	case 0:
		return PlayerOne
	case 1:
		return PlayerTwo
	default:
		return PlayerNone
	}
}

// Action is the kind of a single turn.
type Action string

const (
	ActionMove   Action = "move"
	ActionDouble Action = "double"
	ActionTake   Action = "take"
	ActionDrop   Action = "drop"
	ActionWin    Action = "win"
)

// IsCube reports whether the action belongs to a doubling exchange.
func (a Action) IsCube() bool {
	return a == ActionDouble || a == ActionTake || a == ActionDrop
}

// Variant selects the starting layout.
type Variant string

const (
	VariantShort Variant = "short"
	VariantLong  Variant = "long"
)

// Symbolic endpoints, in the mover's own numbering.
const (
	Off = 0
	Bar = 25
)

type Dice [2]int

func (d Dice) IsZero() bool { return d[0] == 0 && d[1] == 0 }

func (d Dice) String() string { return fmt.Sprintf("%d%d", d[0], d[1]) }

type Move struct {
	From int  `json:"from"`
	To   int  `json:"to"`
	Hit  bool `json:"hit"`
}

func (m Move) String() string {
	s := endpoint(m.From, true) + "/" + endpoint(m.To, false)
	if m.Hit {
		s += "*"
	}
	return s
}

func endpoint(p int, from bool) string {
	if from && p == Bar {
		return "Bar"
	}
	if !from && p == Off {
		return "Off"
	}
	return fmt.Sprintf("%d", p)
}

// Turn is one player's action. Dice is zero for non-move actions.
// CubeValue is set on doubles, Points on wins.
type Turn struct {
	Number    int    `json:"number"`
	Player    Player `json:"player"`
	Action    Action `json:"action"`
	Dice      Dice   `json:"dice"`
	Moves     []Move `json:"moves"`
	CubeValue int    `json:"cube_value,omitempty"`
	Points    int    `json:"points,omitempty"`
}

type Result struct {
	Player Player `json:"player"`
	Points int    `json:"points"`
}

type Game struct {
	Number   int     `json:"number"`
	Scores   [2]int  `json:"scores"`
	Crawford bool    `json:"crawford"`
	Turns    []Turn  `json:"turns"`
	Winner   *Result `json:"winner,omitempty"`
}

// Match is the parsed form of a whole log. It is not mutated after Parse returns.
type Match struct {
	Players [2]string `json:"players"`
	Length  int       `json:"length"`
	Variant Variant   `json:"variant"`
	Inverse bool      `json:"inverse"`
	Games   []Game    `json:"games"`
}

// CrawfordGame returns the index of the Crawford game, or -1.
func (m *Match) CrawfordGame() int {
	if m == nil {
		return -1
	}
	for i := range m.Games {
		if m.Games[i].Crawford {
			return i
		}
	}
	return -1
}

// TurnCount is the number of turns across all games.
func (m *Match) TurnCount() int {
	n := 0
	for i := range m.Games {
		n += len(m.Games[i].Turns)
	}
	return n
}
