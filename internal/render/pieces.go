package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/*.svg
var pieceFiles embed.FS

type pieceKey struct {
	piece nchess.Piece
	size  int
}

// pieceCache holds rasterised pieces per size; sizes are few in practice.
type pieceCache struct {
	mu     sync.RWMutex
	images map[pieceKey]image.Image
}

func newPieceCache() *pieceCache {
	return &pieceCache{images: make(map[pieceKey]image.Image)}
}

func (c *pieceCache) get(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{piece: piece, size: size}
	c.mu.RLock()
	img, ok := c.images[key]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	img, err := rasterisePiece(piece, size)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()
	return img, nil
}

func rasterisePiece(piece nchess.Piece, size int) (image.Image, error) {
	name := pieceAssetName(piece.Type())
	if name == "" {
		return nil, fmt.Errorf("no asset for piece %v", piece)
	}
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}

	fill, stroke := "#f8f8f8", "#1e1e1e"
	if piece.Color() == nchess.Black {
		fill, stroke = "#2b2b2b", "#0a0a0a"
	}
	data = bytes.ReplaceAll(data, []byte("#FILL"), []byte(fill))
	data = bytes.ReplaceAll(data, []byte("#STROKE"), []byte(stroke))

	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg %s: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)
	return img, nil
}

func pieceAssetName(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "assets/king.svg"
	case nchess.Queen:
		return "assets/queen.svg"
	case nchess.Rook:
		return "assets/rook.svg"
	case nchess.Bishop:
		return "assets/bishop.svg"
	case nchess.Knight:
		return "assets/knight.svg"
	case nchess.Pawn:
		return "assets/pawn.svg"
	default:
		return ""
	}
}
