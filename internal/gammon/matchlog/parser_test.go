package matchlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fivePointLog = ` 5 point match

 Game 1
 Alice : 0                           Bob : 0
  1) 43: 13/9 13/10                  54: 24/20 13/8
  2) 31: 8/5 6/5*                    41: Bar/21 24/23
  3)                                  Doubles => 2
  4)  Takes                          62: 13/7 13/11
  5)  Doubles => 4                    Drops
      Wins 2 points

 Game 2
 Alice : 2                           Bob : 0
  1) 66: 24/Off 24/Off 13/Off 13/Off  21: 13/11 6/5
  2) 66: 13/Off 13/Off 13/Off 8/Off   21: 11/9 5/4
  3) 66: 8/Off 8/Off 6/Off 6/Off      21: 9/7 4/3
  4) 66: 6/Off 6/Off 6/Off
      Wins 1 point
`

func TestParseFivePointMatch(t *testing.T) {
	m, err := Parse(fivePointLog, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, 5, m.Length)
	assert.Equal(t, VariantShort, m.Variant)
	assert.Equal(t, [2]string{"Alice", "Bob"}, m.Players)
	require.Len(t, m.Games, 2)

	g1 := m.Games[0]
	require.Len(t, g1.Turns, 10)
	assert.Equal(t, PlayerOne, g1.Turns[0].Player)
	assert.Equal(t, PlayerTwo, g1.Turns[1].Player)

	double := g1.Turns[4]
	assert.Equal(t, ActionDouble, double.Action)
	assert.Equal(t, PlayerTwo, double.Player)
	assert.Equal(t, 2, double.CubeValue)
	assert.True(t, double.Dice.IsZero())

	assert.Equal(t, ActionTake, g1.Turns[5].Action)
	assert.Equal(t, PlayerOne, g1.Turns[5].Player)
	assert.Equal(t, ActionDrop, g1.Turns[8].Action)
	assert.Equal(t, PlayerTwo, g1.Turns[8].Player)

	require.NotNil(t, g1.Winner)
	assert.Equal(t, Result{Player: PlayerOne, Points: 2}, *g1.Winner)
	assert.Equal(t, 5, g1.Turns[9].Number)

	g2 := m.Games[1]
	assert.Equal(t, [2]int{2, 0}, g2.Scores)
	require.Len(t, g2.Turns, 8)
	last := g2.Turns[len(g2.Turns)-1]
	assert.Equal(t, ActionWin, last.Action)
	assert.Equal(t, PlayerOne, last.Player)
	assert.Equal(t, -1, m.CrawfordGame())
}

func TestParseHitCell(t *testing.T) {
	turn, ok := parseCell("31: 8/5 6/5*")
	require.True(t, ok)
	assert.Equal(t, ActionMove, turn.Action)
	assert.Equal(t, Dice{3, 1}, turn.Dice)
	assert.Equal(t, []Move{{From: 8, To: 5}, {From: 6, To: 5, Hit: true}}, turn.Moves)
}

func TestParseMovesSymbolicChainsAndRepeats(t *testing.T) {
	got := parseMoves("Bar/22 6/Off 24/18*/13 8/5(2) junk 30/2")
	want := []Move{
		{From: Bar, To: 22},
		{From: 6, To: Off},
		{From: 24, To: 18, Hit: true},
		{From: 18, To: 13},
		{From: 8, To: 5},
		{From: 8, To: 5},
	}
	assert.Equal(t, want, got)
}

func TestUnrecognisedCellYieldsEmptyMoveTurn(t *testing.T) {
	turn, ok := parseCell("Cannot move")
	require.True(t, ok)
	assert.Equal(t, ActionMove, turn.Action)
	assert.Empty(t, turn.Moves)
	assert.True(t, turn.Dice.IsZero())

	_, ok = parseCell("   ")
	assert.False(t, ok)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	text := ` 3 point match

 Game 1
 Ann : 0                             Ben : 0
 this line is noise
  1) 52: 13/8 13/11                  63: 24/18 13/10
 x) 31: 8/5 6/5
 ) garbage
  2) 31: 8/5 6/5                     11: 6/5 6/5 8/7 8/7
`
	m, err := Parse(text, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, m.Games, 1)
	assert.Len(t, m.Games[0].Turns, 4)
}

func TestMissingHeaderUsesPlaceholders(t *testing.T) {
	text := "Game 1\n  1) 31: 8/5 6/5                   42: 8/4 6/4\n"
	m, err := Parse(text, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, [2]string{placeholderOne, placeholderTwo}, m.Players)
	assert.Equal(t, 0, m.Length)
	require.Len(t, m.Games[0].Turns, 2)
}

func TestCrawfordIsFirstGameAtMatchPointMinusOne(t *testing.T) {
	text := ` 3 point match

 Game 1
 Ann : 0                             Ben : 0
  1) 31: 8/5 6/5                     Doubles => 2
  2)  Drops
                                     Wins 1 point

 Game 2
 Ann : 0                             Ben : 1
  1) 42: 8/4 6/4                     Doubles => 2
  2)  Drops
                                     Wins 1 point

 Game 3
 Ann : 0                             Ben : 2
  1) 31: 8/5 6/5                     42: 8/4 6/4

 Game 4
 Ann : 1                             Ben : 2
  1) 31: 8/5 6/5                     42: 8/4 6/4
`
	m, err := Parse(text, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, m.Games, 4)
	assert.Equal(t, 2, m.CrawfordGame())
	assert.False(t, m.Games[3].Crawford)

	require.NotNil(t, m.Games[0].Winner)
	assert.Equal(t, PlayerTwo, m.Games[0].Winner.Player)
}

func TestMoneyGameHasNoCrawford(t *testing.T) {
	text := `Game 1
 Ann : 0                             Ben : 0
  1) 31: 8/5 6/5                     42: 8/4 6/4
`
	m, err := Parse(text, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Length)
	assert.Equal(t, -1, m.CrawfordGame())
}

func TestInverseSwapsSeats(t *testing.T) {
	m, err := Parse(fivePointLog, ParseOptions{Inverse: true})
	require.NoError(t, err)
	assert.Equal(t, [2]string{"Bob", "Alice"}, m.Players)
	assert.Equal(t, [2]int{0, 2}, m.Games[1].Scores)
	assert.Equal(t, PlayerTwo, m.Games[0].Turns[0].Player)
	assert.Equal(t, PlayerOne, m.Games[0].Turns[1].Player)
	assert.Equal(t, PlayerTwo, m.Games[0].Winner.Player)
}

func TestLongVariantFromPreamble(t *testing.T) {
	m, err := Parse(" Long game\n 1 point match\n\n Game 1\n A : 0                               B : 0\n  1) 65: 24/13                       43: 24/17\n", ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, VariantLong, m.Variant)
}

func TestNoGames(t *testing.T) {
	_, err := Parse("nothing to see\n", ParseOptions{})
	assert.ErrorIs(t, err, ErrNoGames)
}

func TestParseFileUsesDialect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seat.txt")
	require.NoError(t, os.WriteFile(path, []byte(fivePointLog), 0o644))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.True(t, m.Inverse)
	assert.Equal(t, "Bob", m.Players[0])

	assert.False(t, DialectFromPath("x.MAT").Inverse)
}
