// Package render draws a position as a PNG board image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-chess-server/internal/rules"
)

const (
	DefaultSquareSize = 64
	margin            = 20
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	background      = color.RGBA{40, 42, 54, 255}
	lastMoveOverlay = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	checkOverlay    = color.NRGBA{R: 230, G: 60, B: 60, A: 150}
	coordinateColor = color.RGBA{220, 222, 230, 255}
)

type Options struct {
	// LastMove highlights its origin and destination squares.
	LastMove *rules.Move
	// Flip draws the board from black's side.
	Flip bool
	// Check tints the square of the king of the side to move.
	Check bool
}

type Renderer struct {
	squareSize int
	pieces     *pieceCache
}

func New(squareSize int) *Renderer {
	if squareSize < 16 {
		squareSize = DefaultSquareSize
	}
	return &Renderer{squareSize: squareSize, pieces: newPieceCache()}
}

// Size is the edge length of rendered images in pixels.
func (r *Renderer) Size() int {
	return r.squareSize*8 + margin*2
}

func (r *Renderer) RenderPNG(ctx context.Context, pos rules.Position, opts Options) ([]byte, error) {
	board := pos.Board()
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	size := r.Size()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for f := 0; f < 8; f++ {
		for rk := 0; rk < 8; rk++ {
			draw.Draw(img, r.squareRect(f, rk, opts.Flip), image.NewUniform(squareColor(f, rk)), image.Point{}, draw.Src)
		}
	}
	if mv := opts.LastMove; mv != nil {
		for _, sq := range []string{mv.From, mv.To} {
			if f, rk, ok := parseSquare(sq); ok {
				draw.Draw(img, r.squareRect(f, rk, opts.Flip), image.NewUniform(lastMoveOverlay), image.Point{}, draw.Over)
			}
		}
	}
	if opts.Check {
		if f, rk, ok := kingSquare(board, pos.Turn()); ok {
			draw.Draw(img, r.squareRect(f, rk, opts.Flip), image.NewUniform(checkOverlay), image.Point{}, draw.Over)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for f := 0; f < 8; f++ {
		for rk := 0; rk < 8; rk++ {
			piece := board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(rk)))
			if piece == nchess.NoPiece {
				continue
			}
			glyph, err := r.pieces.get(piece, r.squareSize)
			if err != nil {
				return nil, err
			}
			rect := r.squareRect(f, rk, opts.Flip)
			draw.Draw(img, rect, glyph, image.Point{}, draw.Over)
		}
	}
	r.drawCoordinates(img, opts.Flip)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareRect maps file/rank (0-based, a1 = 0,0) to pixels.
func (r *Renderer) squareRect(f, rk int, flip bool) image.Rectangle {
	col, row := f, 7-rk
	if flip {
		col, row = 7-f, rk
	}
	x := margin + col*r.squareSize
	y := margin + row*r.squareSize
	return image.Rect(x, y, x+r.squareSize, y+r.squareSize)
}

func (r *Renderer) drawCoordinates(img *image.RGBA, flip bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(coordinateColor), Face: face}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := string(rune('a' + i))
		rank := string(rune('1' + i))
		fileRect := r.squareRect(i, 0, flip)
		rankRect := r.squareRect(0, i, flip)

		w := d.MeasureString(file).Round()
		d.Dot = fixed.P(fileRect.Min.X+(r.squareSize-w)/2, margin+8*r.squareSize+(margin+ascent)/2)
		d.DrawString(file)

		w = d.MeasureString(rank).Round()
		d.Dot = fixed.P((margin-w)/2, rankRect.Min.Y+(r.squareSize+ascent)/2)
		d.DrawString(rank)
	}
}

func squareColor(f, rk int) color.Color {
	if (f+rk)%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func parseSquare(s string) (int, int, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, 0, false
	}
	return int(s[0] - 'a'), int(s[1] - '1'), true
}

func kingSquare(board *nchess.Board, side rules.Color) (int, int, bool) {
	want := nchess.White
	if side == rules.Black {
		want = nchess.Black
	}
	for f := 0; f < 8; f++ {
		for rk := 0; rk < 8; rk++ {
			p := board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(rk)))
			if p.Type() == nchess.King && p.Color() == want {
				return f, rk, true
			}
		}
	}
	return 0, 0, false
}
