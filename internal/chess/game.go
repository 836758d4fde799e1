package chess

// Game is a position plus the stack of applied moves and the current outcome.
type Game struct {
	pos     Position
	result  Result
	history []undo
}

// NewGame returns a game at the standard starting position.
func NewGame() *Game {
	g := &Game{pos: startingPosition()}
	g.result = g.computeResult()
	return g
}

// NewGameFromFEN loads a game from a FEN string.
func NewGameFromFEN(fen string) (*Game, error) {
	g := &Game{}
	if err := g.LoadFEN(fen); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadFEN replaces the current state and clears move history.
func (g *Game) LoadFEN(fen string) error {
	pos, err := ParseFEN(fen)
	if err != nil {
		return err
	}
	g.pos = pos
	g.history = nil
	g.result = g.computeResult()
	return nil
}

func (g *Game) FEN() string { return g.pos.FEN() }

// Position returns a copy of the current position.
func (g *Game) Position() Position { return g.pos }

func (g *Game) Turn() Color { return g.pos.Turn }

func (g *Game) Result() Result { return g.result }

func (g *Game) IsGameOver() bool { return g.result.IsOver() }

func (g *Game) InCheck() bool { return g.pos.InCheck(g.pos.Turn) }

func (g *Game) LegalMoves() []Move { return g.pos.LegalMoves() }

// History returns the applied moves, oldest first.
func (g *Game) History() []Move {
	out := make([]Move, len(g.history))
	for i, u := range g.history {
		out[i] = u.move
	}
	return out
}

func (g *Game) Clone() *Game {
	c := &Game{pos: g.pos, result: g.result}
	c.history = append([]undo(nil), g.history...)
	return c
}

// MakeMove applies m if it matches a legal move by from, to and promotion
// (promotion defaults to queen). It returns false when no legal move matches.
func (g *Game) MakeMove(m Move) bool {
	return g.play(m.From, m.To, m.Promotion)
}

// MakeMoveUCI is MakeMove for strings such as "e2e4" or "a7a8q".
func (g *Game) MakeMoveUCI(s string) bool {
	from, to, promo, err := ParseUCI(s)
	if err != nil {
		return false
	}
	return g.play(from, to, promo)
}

func (g *Game) play(from, to Square, promo PieceType) bool {
	if g.result.IsOver() {
		return false
	}
	if promo == NoPieceType {
		promo = Queen
	}
	for _, m := range g.pos.LegalMoves() {
		if m.From != from || m.To != to {
			continue
		}
		if m.IsPromotion && m.Promotion != promo {
			continue
		}
		u := g.pos.apply(m)
		u.result = g.result
		g.history = append(g.history, u)
		g.result = g.computeResult()
		return true
	}
	return false
}

// Undo reverts the last applied move. It returns false when there is nothing to undo.
func (g *Game) Undo() bool {
	n := len(g.history)
	if n == 0 {
		return false
	}
	u := g.history[n-1]
	g.history = g.history[:n-1]
	g.pos.unapply(u)
	g.result = u.result
	return true
}

// computeResult evaluates the position for the side to move, i.e. the reply to the last move.
func (g *Game) computeResult() Result {
	mover := g.pos.Turn.Opponent()
	if len(g.pos.LegalMoves()) == 0 {
		if g.pos.InCheck(g.pos.Turn) {
			return Result{Status: StatusCheckmate, Winner: winnerOf(mover)}
		}
		return Result{Status: StatusStalemate, Winner: WinnerDraw}
	}
	if g.pos.HalfmoveClock >= 100 {
		return Result{Status: StatusFiftyMove, Winner: WinnerDraw}
	}
	return Result{Status: StatusOngoing}
}

func (g *Game) Perft(depth int) uint64 {
	pos := g.pos
	return pos.Perft(depth)
}
