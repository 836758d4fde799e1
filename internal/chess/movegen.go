package chess

var promotionPieces = []PieceType{Queen, Rook, Bishop, Knight}

// undo carries everything needed to revert one applied move.
type undo struct {
	move       Move
	captured   Piece
	capturedSq Square
	castling   CastlingRights
	enPassant  Square
	halfmove   int
	fullmove   int
	result     Result
}

// LegalMoves returns the moves for the side to move that do not leave its own king in check.
func (p *Position) LegalMoves() []Move {
	pseudo := p.pseudoLegalMoves()
	legal := make([]Move, 0, len(pseudo))
	for _, m := range pseudo {
		u := p.apply(m)
		if !p.InCheck(m.Color) {
			m.IsCheck = p.InCheck(m.Color.Opponent())
			legal = append(legal, m)
		}
		p.unapply(u)
	}
	return legal
}

func (p *Position) pseudoLegalMoves() []Move {
	moves := make([]Move, 0, 48)
	us := p.Turn
	for sq := Square(0); sq < 64; sq++ {
		pc := p.Board[sq]
		if pc.IsEmpty() || pc.Color != us {
			continue
		}
		switch pc.Type {
		case Pawn:
			moves = p.genPawn(sq, us, moves)
		case Knight:
			moves = p.genSteps(sq, pc, knightOffsets, moves)
		case Bishop:
			moves = p.genSliding(sq, pc, bishopDirs, moves)
		case Rook:
			moves = p.genSliding(sq, pc, rookDirs, moves)
		case Queen:
			moves = p.genSliding(sq, pc, rookDirs, moves)
			moves = p.genSliding(sq, pc, bishopDirs, moves)
		case King:
			moves = p.genSteps(sq, pc, kingOffsets, moves)
			moves = p.genCastling(sq, us, moves)
		}
	}
	return moves
}

func (p *Position) target(from, to Square, pc Piece) (Move, bool) {
	m := Move{From: from, To: to, Piece: pc.Type, Color: pc.Color}
	dst := p.Board[to]
	if dst.IsEmpty() {
		return m, true
	}
	if dst.Color == pc.Color {
		return m, false
	}
	m.IsCapture = true
	m.Captured = dst.Type
	return m, true
}

func (p *Position) genSteps(sq Square, pc Piece, offsets []offset, moves []Move) []Move {
	for _, o := range offsets {
		to := step(sq, o)
		if to == NoSquare {
			continue
		}
		if m, ok := p.target(sq, to, pc); ok {
			moves = append(moves, m)
		}
	}
	return moves
}

func (p *Position) genSliding(sq Square, pc Piece, dirs []offset, moves []Move) []Move {
	for _, d := range dirs {
		to := step(sq, d)
		for to != NoSquare {
			m, ok := p.target(sq, to, pc)
			if !ok {
				break
			}
			moves = append(moves, m)
			if m.IsCapture {
				break
			}
			to = step(to, d)
		}
	}
	return moves
}

func appendPawnMove(moves []Move, m Move, promoRank int) []Move {
	if m.To.Rank() != promoRank {
		return append(moves, m)
	}
	for _, promo := range promotionPieces {
		pm := m
		pm.IsPromotion = true
		pm.Promotion = promo
		moves = append(moves, pm)
	}
	return moves
}

func (p *Position) genPawn(sq Square, us Color, moves []Move) []Move {
	dir, startRank, promoRank := 1, 1, 7
	if us == Black {
		dir, startRank, promoRank = -1, 6, 0
	}
	pc := Piece{Type: Pawn, Color: us}

	one := SquareAt(sq.File(), sq.Rank()+dir)
	if one != NoSquare && p.Board[one].IsEmpty() {
		moves = appendPawnMove(moves, Move{From: sq, To: one, Piece: Pawn, Color: us}, promoRank)
		if sq.Rank() == startRank {
			two := SquareAt(sq.File(), sq.Rank()+2*dir)
			if two != NoSquare && p.Board[two].IsEmpty() {
				moves = append(moves, Move{From: sq, To: two, Piece: Pawn, Color: us})
			}
		}
	}

	for _, df := range []int{-1, 1} {
		to := SquareAt(sq.File()+df, sq.Rank()+dir)
		if to == NoSquare {
			continue
		}
		dst := p.Board[to]
		switch {
		case !dst.IsEmpty() && dst.Color != us:
			m, _ := p.target(sq, to, pc)
			moves = appendPawnMove(moves, m, promoRank)
		case dst.IsEmpty() && to == p.EnPassant:
			moves = append(moves, Move{
				From: sq, To: to, Piece: Pawn, Color: us,
				Captured: Pawn, IsCapture: true, IsEnPassant: true,
			})
		}
	}
	return moves
}

func (p *Position) genCastling(sq Square, us Color, moves []Move) []Move {
	rank := 0
	kingSide, queenSide := p.Castling.WhiteKingSide, p.Castling.WhiteQueenSide
	if us == Black {
		rank = 7
		kingSide, queenSide = p.Castling.BlackKingSide, p.Castling.BlackQueenSide
	}
	if sq != SquareAt(4, rank) || (!kingSide && !queenSide) {
		return moves
	}
	them := us.Opponent()
	if p.isAttacked(sq, them) {
		return moves
	}
	rook := Piece{Type: Rook, Color: us}
	empty := func(files ...int) bool {
		for _, f := range files {
			if !p.Board[SquareAt(f, rank)].IsEmpty() {
				return false
			}
		}
		return true
	}
	safe := func(files ...int) bool {
		for _, f := range files {
			if p.isAttacked(SquareAt(f, rank), them) {
				return false
			}
		}
		return true
	}
	if kingSide && p.Board[SquareAt(7, rank)] == rook && empty(5, 6) && safe(5, 6) {
		moves = append(moves, Move{From: sq, To: SquareAt(6, rank), Piece: King, Color: us, IsCastleKingSide: true})
	}
	if queenSide && p.Board[SquareAt(0, rank)] == rook && empty(1, 2, 3) && safe(3, 2) {
		moves = append(moves, Move{From: sq, To: SquareAt(2, rank), Piece: King, Color: us, IsCastleQueenSide: true})
	}
	return moves
}

func (p *Position) clearCornerRights(sq Square) {
	switch sq {
	case SquareAt(0, 0):
		p.Castling.WhiteQueenSide = false
	case SquareAt(7, 0):
		p.Castling.WhiteKingSide = false
	case SquareAt(0, 7):
		p.Castling.BlackQueenSide = false
	case SquareAt(7, 7):
		p.Castling.BlackKingSide = false
	}
}

// apply mutates the position by m without any legality check.
func (p *Position) apply(m Move) undo {
	u := undo{
		move:       m,
		capturedSq: m.To,
		castling:   p.Castling,
		enPassant:  p.EnPassant,
		halfmove:   p.HalfmoveClock,
		fullmove:   p.FullmoveNumber,
	}
	if m.IsEnPassant {
		u.capturedSq = SquareAt(m.To.File(), m.From.Rank())
	}
	u.captured = p.Board[u.capturedSq]

	moving := p.Board[m.From]
	p.Board[u.capturedSq] = Piece{}
	p.Board[m.From] = Piece{}
	if m.IsPromotion {
		moving.Type = m.Promotion
	}
	p.Board[m.To] = moving

	rank := m.From.Rank()
	if m.IsCastleKingSide {
		p.Board[SquareAt(5, rank)] = p.Board[SquareAt(7, rank)]
		p.Board[SquareAt(7, rank)] = Piece{}
	}
	if m.IsCastleQueenSide {
		p.Board[SquareAt(3, rank)] = p.Board[SquareAt(0, rank)]
		p.Board[SquareAt(0, rank)] = Piece{}
	}

	if m.Piece == King {
		if m.Color == White {
			p.Castling.WhiteKingSide, p.Castling.WhiteQueenSide = false, false
		} else {
			p.Castling.BlackKingSide, p.Castling.BlackQueenSide = false, false
		}
	}
	p.clearCornerRights(m.From)
	p.clearCornerRights(m.To)

	p.EnPassant = NoSquare
	if m.Piece == Pawn && (m.To.Rank()-m.From.Rank() == 2 || m.From.Rank()-m.To.Rank() == 2) {
		p.EnPassant = SquareAt(m.From.File(), (m.From.Rank()+m.To.Rank())/2)
	}

	if m.Piece == Pawn || !u.captured.IsEmpty() {
		p.HalfmoveClock = 0
	} else {
		p.HalfmoveClock++
	}
	if m.Color == Black {
		p.FullmoveNumber++
	}
	p.Turn = m.Color.Opponent()
	return u
}

func (p *Position) unapply(u undo) {
	m := u.move
	p.Turn = m.Color
	p.Board[m.To] = Piece{}
	p.Board[m.From] = Piece{Type: m.Piece, Color: m.Color}
	p.Board[u.capturedSq] = u.captured

	rank := m.From.Rank()
	if m.IsCastleKingSide {
		p.Board[SquareAt(7, rank)] = p.Board[SquareAt(5, rank)]
		p.Board[SquareAt(5, rank)] = Piece{}
	}
	if m.IsCastleQueenSide {
		p.Board[SquareAt(0, rank)] = p.Board[SquareAt(3, rank)]
		p.Board[SquareAt(3, rank)] = Piece{}
	}

	p.Castling = u.castling
	p.EnPassant = u.enPassant
	p.HalfmoveClock = u.halfmove
	p.FullmoveNumber = u.fullmove
}

// Perft counts leaf nodes of the legal move tree to the given depth.
func (p *Position) Perft(depth int) uint64 {
	if depth <= 0 {
		return 1
	}
	moves := p.LegalMoves()
	if depth == 1 {
		return uint64(len(moves))
	}
	var nodes uint64
	for _, m := range moves {
		u := p.apply(m)
		nodes += p.Perft(depth - 1)
		p.unapply(u)
	}
	return nodes
}

// After returns the position reached by m without checking legality. The receiver is not modified.
func (p Position) After(m Move) Position {
	p.apply(m)
	return p
}
