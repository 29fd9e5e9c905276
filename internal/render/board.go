package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/gammon-analysis-bot/internal/gammon/board"
	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

const (
	margin     = 20
	headerH    = 36
	pointW     = 50
	barW       = 40
	trayW      = 60
	boardH     = 440
	checkerR   = 22
	maxStacked = 5

	width  = margin*2 + pointW*12 + barW + trayW
	height = headerH + boardH + margin*2
)

var (
	colFelt     = "#2e5e3a"
	colFrame    = "#5a3b1e"
	colPointA   = "#d8c8a0"
	colPointB   = "#8b2f2f"
	colCheckers = [2]string{"#f4f1e8", "#222222"}
	colStroke   = [2]string{"#555555", "#999999"}

	textLight = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	textDark  = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
)

// Labels are drawn above the board.
type Labels struct {
	Title    string
	Subtitle string
}

// Renderer draws backgammon positions as PNG images.
type Renderer interface {
	RenderPNG(frame board.Frame, labels Labels) ([]byte, error)
}

type svgRenderer struct{}

func NewRenderer() Renderer { return &svgRenderer{} }

func (r *svgRenderer) RenderPNG(frame board.Frame, labels Labels) ([]byte, error) {
	svg := buildSVG(frame)
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse board svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0x1b, G: 0x1b, B: 0x1b, A: 0xff}), image.Point{}, imagedraw.Src)

	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	drawLabels(drawer, frame, labels)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func boardTop() int    { return headerH + margin }
func boardBottom() int { return boardTop() + boardH }
func boardLeft() int   { return margin }
func boardRight() int  { return margin + pointW*12 + barW }

// pointX returns the left edge of an absolute point; 1..12 run right to left
// along the bottom, 13..24 left to right along the top.
func pointX(p int) int {
	if p <= 12 {
		idx := p - 1
		if idx < 6 {
			return boardRight() - (idx+1)*pointW
		}
		return boardRight() - 6*pointW - barW - (idx-5)*pointW
	}
	idx := p - 13
	if idx < 6 {
		return boardLeft() + idx*pointW
	}
	return boardLeft() + 6*pointW + barW + (idx-6)*pointW
}

func buildSVG(frame board.Frame) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, width, height, width, height)
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, boardLeft()-6, boardTop()-6, boardRight()-boardLeft()+trayW+12, boardH+12, colFrame)
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, boardLeft(), boardTop(), boardRight()-boardLeft(), boardH, colFelt)
	// bar
	barX := boardLeft() + 6*pointW
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, barX, boardTop(), barW, boardH, colFrame)
	// tray
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#3d2814"/>`, boardRight()+6, boardTop(), trayW-12, boardH)

	tri := boardH*2/5 + 10
	for p := 1; p <= 24; p++ {
		x := pointX(p)
		fill := colPointA
		if p%2 == 0 {
			fill = colPointB
		}
		if p <= 12 {
			fmt.Fprintf(&b, `<polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`, x, boardBottom(), x+pointW, boardBottom(), x+pointW/2, boardBottom()-tri, fill)
		} else {
			fmt.Fprintf(&b, `<polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`, x, boardTop(), x+pointW, boardTop(), x+pointW/2, boardTop()+tri, fill)
		}
	}

	for side := 0; side < 2; side++ {
		s := frame.Positions.Sides[side]
		for p, n := range s.Points {
			if p < 1 || p > 24 {
				continue
			}
			for i := 0; i < n && i < maxStacked; i++ {
				cx, cy := checkerCenter(p, i)
				circle(&b, cx, cy, side)
			}
		}
		if s.Bar > 0 {
			cx := barX + barW/2
			cy := boardTop() + boardH/2 - checkerR - 8
			if side == 1 {
				cy = boardTop() + boardH/2 + checkerR + 8
			}
			circle(&b, cx, cy, side)
		}
		for i := 0; i < s.Off; i++ {
			y := boardBottom() - 4 - (i+1)*10
			if side == 1 {
				y = boardTop() + 4 + i*10
			}
			fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="8" fill="%s" stroke="%s" stroke-width="1"/>`, boardRight()+10, y, trayW-20, colCheckers[side], colStroke[side])
		}
	}

	cx, cy := cubePosition(frame.Cube)
	fmt.Fprintf(&b, `<rect x="%d" y="%d" width="28" height="28" rx="4" ry="4" fill="#fafafa" stroke="#000000" stroke-width="2"/>`, cx-14, cy-14)

	b.WriteString(`</svg>`)
	return []byte(b.String())
}

func circle(b *strings.Builder, cx, cy, side int) {
	fmt.Fprintf(b, `<circle cx="%d" cy="%d" r="%d" fill="%s" stroke="%s" stroke-width="2"/>`, cx, cy, checkerR-1, colCheckers[side], colStroke[side])
}

func checkerCenter(p, i int) (int, int) {
	cx := pointX(p) + pointW/2
	if p <= 12 {
		return cx, boardBottom() - checkerR - i*checkerR*2
	}
	return cx, boardTop() + checkerR + i*checkerR*2
}

func cubePosition(c board.Cube) (int, int) {
	x := boardLeft() + 6*pointW + barW/2
	switch c.Location {
	case board.CubePlayerOne:
		return x, boardBottom() - 20
	case board.CubePlayerTwo:
		return x, boardTop() + 20
	default:
		return x, boardTop() + boardH/2
	}
}

func drawLabels(d *font.Drawer, frame board.Frame, labels Labels) {
	drawString(d, margin, margin+4, labels.Title, textLight)
	drawString(d, margin, margin+20, labels.Subtitle, textLight)

	for side := 0; side < 2; side++ {
		s := frame.Positions.Sides[side]
		clr := textDark
		if side == 1 {
			clr = textLight
		}
		for p, n := range s.Points {
			if n <= maxStacked || p < 1 || p > 24 {
				continue
			}
			cx, cy := checkerCenter(p, maxStacked-1)
			drawCentered(d, cx, cy+5, strconv.Itoa(n), clr)
		}
		if s.Bar > 1 {
			cx := boardLeft() + 6*pointW + barW/2
			cy := boardTop() + boardH/2 - checkerR - 8
			if side == 1 {
				cy = boardTop() + boardH/2 + checkerR + 8
			}
			drawCentered(d, cx, cy+5, strconv.Itoa(s.Bar), clr)
		}
		if s.Off > 0 {
			y := boardBottom() + 14
			if side == 1 {
				y = boardTop() - 4
			}
			drawCentered(d, boardRight()+trayW/2, y, "off "+strconv.Itoa(s.Off), textLight)
		}
	}

	cx, cy := cubePosition(frame.Cube)
	value := frame.Cube.Value
	if value <= 0 {
		value = 1
	}
	if frame.Cube.Owner == matchlog.PlayerNone && value == 1 {
		value = 64
	}
	drawCentered(d, cx, cy+5, strconv.Itoa(value), textDark)

	for p := 1; p <= 24; p++ {
		x := pointX(p) + pointW/2
		y := boardBottom() + 14
		if p > 12 {
			y = boardTop() - 4
		}
		drawCentered(d, x, y, strconv.Itoa(p), textLight)
	}
}

func drawString(d *font.Drawer, x, y int, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	d.Src = image.NewUniform(clr)
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func drawCentered(d *font.Drawer, cx, baseline int, text string, clr color.Color) {
	w := d.MeasureString(text).Round()
	drawString(d, cx-w/2, baseline, text, clr)
}
