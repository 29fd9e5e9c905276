package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/gammon-analysis-bot/internal/gammon/board"
	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

func TestRenderPNGDecodes(t *testing.T) {
	snap := board.Start(matchlog.VariantShort)
	snap.Sides[0].Points[6] = 7
	snap.Sides[0].Points[24] = 0
	delete(snap.Sides[0].Points, 24)
	snap.Sides[1].Bar = 2
	frame := board.Frame{Positions: snap, Inverted: snap.Invert(), Cube: board.Cube{Value: 2, Owner: matchlog.PlayerTwo, Location: board.CubePlayerTwo}}

	raw, err := NewRenderer().RenderPNG(frame, Labels{Title: "Alice vs Bob", Subtitle: "Game 1"})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, width, img.Bounds().Dx())
	assert.Equal(t, height, img.Bounds().Dy())
}

func TestPointColumnsDoNotOverlap(t *testing.T) {
	seen := map[int]int{}
	for p := 1; p <= 24; p++ {
		x := pointX(p)
		assert.GreaterOrEqual(t, x, boardLeft())
		assert.LessOrEqual(t, x+pointW, boardRight())
		row := 0
		if p > 12 {
			row = 1
		}
		key := x*2 + row
		_, dup := seen[key]
		assert.Falsef(t, dup, "point %d shares a column with point %d", p, seen[key])
		seen[key] = p
	}
	assert.Equal(t, pointX(12), pointX(13))
	assert.Equal(t, pointX(1), pointX(24))
}
