package matchlog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoGames = errf("match log has no games")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// ParseOptions tunes how a log is read.
// Inverse swaps the columns so the right-hand seat becomes player one.
type ParseOptions struct {
	Inverse bool
}

// DialectFromPath picks options from the file extension: .mat is the
// normal dialect, .txt logs are written from the other seat.
func DialectFromPath(path string) ParseOptions {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return ParseOptions{Inverse: true}
	default:
		return ParseOptions{}
	}
}

var (
	reGameMarker = regexp.MustCompile(`(?m)^\s*Game\s+(\d+)\s*$`)
	reHeader     = regexp.MustCompile(`^\s*(\S(?:.*?\S)?)\s*:\s*(\d+)\s{2,}(\S(?:.*?\S)?)\s*:\s*(\d+)\s*$`)
	reMatchLen   = regexp.MustCompile(`(?i)(\d+)\s+point\s+match`)
	reLongGame   = regexp.MustCompile(`(?i)\blong\b`)
	reTurnLine   = regexp.MustCompile(`^\s*(\d+)\)`)
	reCell       = regexp.MustCompile(`\S+(?: \S+)*`)
	reWinLine    = regexp.MustCompile(`(?i)^\s*wins\s+(\d+)\s+points?`)

	reDice   = regexp.MustCompile(`^(\d)(\d):\s*(.*)$`)
	reDouble = regexp.MustCompile(`(?i)^doubles?\s*=>\s*(\d+)`)
	reTake   = regexp.MustCompile(`(?i)^(takes|accepts)\b`)
	reDrop   = regexp.MustCompile(`(?i)^(drops|passes|rejects)\b`)
	reWin    = regexp.MustCompile(`(?i)^wins\s+(\d+)\s+points?`)
	reMove   = regexp.MustCompile(`(?i)^((?:bar|\d{1,2})(?:/(?:off|\d{1,2})\*?)+)(?:\((\d)\))?$`)
)

const (
	placeholderOne = "Player 1"
	placeholderTwo = "Player 2"

	// column gap used to place a lone cell when the header is missing
	defaultColumnGap = 12
)

// ParseFile reads a log from disk using the dialect implied by its extension.
func ParseFile(path string) (*Match, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read match log: %w", err)
	}
	return Parse(string(raw), DialectFromPath(path))
}

// Parse converts match-log text into a Match. Malformed lines are skipped.
func Parse(text string, opt ParseOptions) (*Match, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	m := &Match{
		Players: [2]string{placeholderOne, placeholderTwo},
		Variant: VariantShort,
		Inverse: opt.Inverse,
	}

	markers := reGameMarker.FindAllStringSubmatchIndex(text, -1)
	preamble := text
	if len(markers) > 0 {
		preamble = text[:markers[0][0]]
	}
	if sm := reMatchLen.FindStringSubmatch(preamble); sm != nil {
		m.Length, _ = strconv.Atoi(sm[1])
	}
	if reLongGame.MatchString(preamble) {
		m.Variant = VariantLong
	}

	type block struct {
		number int
		body   string
	}
	var blocks []block
	if len(markers) == 0 {
		if reTurnLine.MatchString(firstTurnLine(text)) {
			blocks = append(blocks, block{number: 1, body: text})
		}
	}
	for i, mk := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		n, _ := strconv.Atoi(text[mk[2]:mk[3]])
		blocks = append(blocks, block{number: n, body: text[mk[1]:end]})
	}
	if len(blocks) == 0 {
		return nil, ErrNoGames
	}

	namesSet := false
	for _, b := range blocks {
		g, names, ok := parseGame(b.number, b.body, opt)
		if ok && !namesSet {
			m.Players = names
			namesSet = true
		}
		m.Games = append(m.Games, g)
	}

	markCrawford(m)
	return m, nil
}

func firstTurnLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if reTurnLine.MatchString(line) {
			return line
		}
	}
	return ""
}

// markCrawford flags the first game played at match point minus one.
func markCrawford(m *Match) {
	if m.Length <= 1 {
		return
	}
	for i := range m.Games {
		s := m.Games[i].Scores
		if max(s[0], s[1]) == m.Length-1 {
			m.Games[i].Crawford = true
			return
		}
	}
}

// parseGame returns the game, the header names in player order, and whether a header was found.
func parseGame(number int, body string, opt ParseOptions) (Game, [2]string, bool) {
	g := Game{Number: number}
	names := [2]string{placeholderOne, placeholderTwo}
	headerFound := false
	secondCol := -1
	lastLeftCol := -1

	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !headerFound {
			if idx := reHeader.FindStringSubmatchIndex(line); idx != nil && !reTurnLine.MatchString(line) {
				left, right := line[idx[2]:idx[3]], line[idx[6]:idx[7]]
				ls, _ := strconv.Atoi(line[idx[4]:idx[5]])
				rs, _ := strconv.Atoi(line[idx[8]:idx[9]])
				if opt.Inverse {
					names = [2]string{right, left}
					g.Scores = [2]int{rs, ls}
				} else {
					names = [2]string{left, right}
					g.Scores = [2]int{ls, rs}
				}
				secondCol = idx[6]
				headerFound = true
				continue
			}
		}

		loc := reTurnLine.FindStringSubmatchIndex(line)
		if loc == nil {
			// a win can sit on its own line in the winner's column
			if reWinLine.MatchString(line) {
				col := len(line) - len(strings.TrimLeft(line, " \t"))
				right := isRightColumn(col, lastLeftCol, secondCol)
				t, _ := parseCell(strings.TrimSpace(line))
				t.Player = seatPlayer(right, opt)
				appendTurn(&g, t)
			}
			continue
		}

		num, _ := strconv.Atoi(line[loc[2]:loc[3]])
		leftCol := loc[1] + 1
		lastLeftCol = leftCol
		rest := line[loc[1]:]
		cells := reCell.FindAllStringIndex(rest, -1)

		var leftText, rightText string
		switch {
		case len(cells) >= 2:
			leftText = rest[cells[0][0]:cells[0][1]]
			rightText = rest[cells[1][0]:cells[1][1]]
		case len(cells) == 1:
			text := rest[cells[0][0]:cells[0][1]]
			if isRightColumn(loc[1]+cells[0][0], leftCol, secondCol) {
				rightText = text
			} else {
				leftText = text
			}
		}

		for i, cell := range []string{leftText, rightText} {
			t, ok := parseCell(cell)
			if !ok {
				continue
			}
			t.Number = num
			t.Player = seatPlayer(i == 1, opt)
			appendTurn(&g, t)
		}
	}
	return g, names, headerFound
}

func appendTurn(g *Game, t Turn) {
	if t.Action == ActionWin {
		if t.Number == 0 && len(g.Turns) > 0 {
			t.Number = g.Turns[len(g.Turns)-1].Number
		}
		g.Winner = &Result{Player: t.Player, Points: t.Points}
	}
	g.Turns = append(g.Turns, t)
}

func isRightColumn(col, leftCol, secondCol int) bool {
	if leftCol < 0 {
		leftCol = 4
	}
	if secondCol > leftCol {
		return col >= (leftCol+secondCol)/2
	}
	return col-leftCol >= defaultColumnGap
}

func seatPlayer(right bool, opt ParseOptions) Player {
	if right != opt.Inverse {
		return PlayerTwo
	}
	return PlayerOne
}

// parseCell reads one player's text. The bool is false for an empty cell.
func parseCell(cell string) (Turn, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return Turn{}, false
	}
	if sm := reDice.FindStringSubmatch(cell); sm != nil {
		d1, _ := strconv.Atoi(sm[1])
		d2, _ := strconv.Atoi(sm[2])
		return Turn{Action: ActionMove, Dice: Dice{d1, d2}, Moves: parseMoves(sm[3])}, true
	}
	if sm := reDouble.FindStringSubmatch(cell); sm != nil {
		v, _ := strconv.Atoi(sm[1])
		return Turn{Action: ActionDouble, CubeValue: v}, true
	}
	if reTake.MatchString(cell) {
		return Turn{Action: ActionTake}, true
	}
	if reDrop.MatchString(cell) {
		return Turn{Action: ActionDrop}, true
	}
	if sm := reWin.FindStringSubmatch(cell); sm != nil {
		p, _ := strconv.Atoi(sm[1])
		return Turn{Action: ActionWin, Points: p}, true
	}
	return Turn{Action: ActionMove}, true
}

// parseMoves accepts plain hops (8/5), hits (6/5*), chains (24/18*/13)
// and repeats (8/5(2)). Anything else is dropped.
func parseMoves(s string) []Move {
	var out []Move
	for _, tok := range strings.Fields(s) {
		sm := reMove.FindStringSubmatch(tok)
		if sm == nil {
			continue
		}
		repeat := 1
		if sm[2] != "" {
			repeat, _ = strconv.Atoi(sm[2])
		}
		hops := strings.Split(sm[1], "/")
		var chain []Move
		from, ok := parsePoint(hops[0])
		if !ok {
			continue
		}
		for _, h := range hops[1:] {
			hit := strings.HasSuffix(h, "*")
			to, ok := parsePoint(strings.TrimSuffix(h, "*"))
			if !ok {
				chain = nil
				break
			}
			chain = append(chain, Move{From: from, To: to, Hit: hit})
			from = to
		}
		for i := 0; i < repeat; i++ {
			out = append(out, chain...)
		}
	}
	return out
}

func parsePoint(s string) (int, bool) {
	switch strings.ToLower(s) {
	case "bar":
		return Bar, true
	case "off":
		return Off, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 24 {
		return 0, false
	}
	return n, true
}
