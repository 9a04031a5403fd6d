package rules

import nchess "github.com/corentings/chess/v2"

var (
	knightSteps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straight    = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonal    = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// inCheck reports whether the side to move has its king attacked.
func inCheck(pos *nchess.Position) bool {
	if pos == nil {
		return false
	}
	board := pos.Board()
	side := pos.Turn()
	enemy := nchess.Black
	if side == nchess.Black {
		enemy = nchess.White
	}

	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			p := pieceAt(board, f, r)
			if p.Type() == nchess.King && p.Color() == side {
				return attacked(board, f, r, enemy)
			}
		}
	}
	return false
}

func attacked(board *nchess.Board, f, r int, by nchess.Color) bool {
	pawnRank := r - 1
	if by == nchess.Black {
		pawnRank = r + 1
	}
	for _, df := range [2]int{-1, 1} {
		if is(board, f+df, pawnRank, by, nchess.Pawn) {
			return true
		}
	}
	for _, s := range knightSteps {
		if is(board, f+s[0], r+s[1], by, nchess.Knight) {
			return true
		}
	}
	for _, s := range kingSteps {
		if is(board, f+s[0], r+s[1], by, nchess.King) {
			return true
		}
	}
	for _, d := range straight {
		if slider(board, f, r, d, by, nchess.Rook) {
			return true
		}
	}
	for _, d := range diagonal {
		if slider(board, f, r, d, by, nchess.Bishop) {
			return true
		}
	}
	return false
}

func slider(board *nchess.Board, f, r int, d [2]int, by nchess.Color, kind nchess.PieceType) bool {
	for x, y := f+d[0], r+d[1]; onBoard(x, y); x, y = x+d[0], y+d[1] {
		p := pieceAt(board, x, y)
		if p == nchess.NoPiece {
			continue
		}
		return p.Color() == by && (p.Type() == kind || p.Type() == nchess.Queen)
	}
	return false
}

func is(board *nchess.Board, f, r int, c nchess.Color, kind nchess.PieceType) bool {
	if !onBoard(f, r) {
		return false
	}
	p := pieceAt(board, f, r)
	return p != nchess.NoPiece && p.Color() == c && p.Type() == kind
}

func pieceAt(board *nchess.Board, f, r int) nchess.Piece {
	return board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
}

func onBoard(f, r int) bool {
	return f >= 0 && f < 8 && r >= 0 && r < 8
}
