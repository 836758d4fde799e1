package chess

// Position is the full chess state except move history.
type Position struct {
	Board          [64]Piece
	Turn           Color
	Castling       CastlingRights
	EnPassant      Square
	HalfmoveClock  int
	FullmoveNumber int
}

func startingPosition() Position {
	p := Position{
		Turn:           White,
		Castling:       CastlingRights{true, true, true, true},
		EnPassant:      NoSquare,
		FullmoveNumber: 1,
	}
	back := []PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for file, t := range back {
		p.Board[SquareAt(file, 0)] = Piece{Type: t, Color: White}
		p.Board[SquareAt(file, 1)] = Piece{Type: Pawn, Color: White}
		p.Board[SquareAt(file, 6)] = Piece{Type: Pawn, Color: Black}
		p.Board[SquareAt(file, 7)] = Piece{Type: t, Color: Black}
	}
	return p
}

func (p *Position) PieceAt(sq Square) Piece {
	if !sq.Valid() {
		return Piece{}
	}
	return p.Board[sq]
}

func (p *Position) kingSquare(c Color) Square {
	for sq := Square(0); sq < 64; sq++ {
		pc := p.Board[sq]
		if pc.Type == King && pc.Color == c {
			return sq
		}
	}
	return NoSquare
}

// InCheck reports whether side c has its king attacked.
func (p *Position) InCheck(c Color) bool {
	k := p.kingSquare(c)
	if k == NoSquare {
		return false
	}
	return p.isAttacked(k, c.Opponent())
}

type offset struct{ df, dr int }

var (
	knightOffsets = []offset{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingOffsets   = []offset{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookDirs      = []offset{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopDirs    = []offset{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func step(sq Square, o offset) Square {
	return SquareAt(sq.File()+o.df, sq.Rank()+o.dr)
}

// isAttacked reports whether sq is attacked by any piece of color by.
func (p *Position) isAttacked(sq Square, by Color) bool {
	// pawns attack diagonally forward, so look backwards from sq
	dr := -1
	if by == Black {
		dr = 1
	}
	for _, df := range []int{-1, 1} {
		from := SquareAt(sq.File()+df, sq.Rank()+dr)
		if from == NoSquare {
			continue
		}
		if pc := p.Board[from]; pc.Type == Pawn && pc.Color == by {
			return true
		}
	}
	for _, o := range knightOffsets {
		from := step(sq, o)
		if from == NoSquare {
			continue
		}
		if pc := p.Board[from]; pc.Type == Knight && pc.Color == by {
			return true
		}
	}
	for _, o := range kingOffsets {
		from := step(sq, o)
		if from == NoSquare {
			continue
		}
		if pc := p.Board[from]; pc.Type == King && pc.Color == by {
			return true
		}
	}
	if p.slidingAttack(sq, by, rookDirs, Rook) {
		return true
	}
	return p.slidingAttack(sq, by, bishopDirs, Bishop)
}

func (p *Position) slidingAttack(sq Square, by Color, dirs []offset, slider PieceType) bool {
	for _, d := range dirs {
		to := step(sq, d)
		for to != NoSquare {
			pc := p.Board[to]
			if !pc.IsEmpty() {
				if pc.Color == by && (pc.Type == slider || pc.Type == Queen) {
					return true
				}
				break
			}
			to = step(to, d)
		}
	}
	return false
}

// Material returns white minus black material using PieceType.Value.
func (p *Position) Material() int {
	score := 0
	for _, pc := range p.Board {
		if pc.IsEmpty() {
			continue
		}
		if pc.Color == White {
			score += pc.Type.Value()
		} else {
			score -= pc.Type.Value()
		}
	}
	return score
}
