// Package chesstrain simulates heuristic self-play games and learns per-position
// move statistics from them.
package chesstrain

import (
	"math/rand"

	"github.com/park285/runenkrieg/internal/chess"
)

const (
	captureWeight     = 10.0
	promotionBonus    = 8.0
	castlingBonus     = 2.0
	centerBonus       = 0.5
	developmentBonus  = 0.4
	checkBonus        = 1.5
	materialWeight    = 0.1
	DefaultRandomness = 0.35
)

var centerSquares = map[chess.Square]bool{
	chess.SquareAt(3, 3): true, // d4
	chess.SquareAt(4, 3): true, // e4
	chess.SquareAt(3, 4): true, // d5
	chess.SquareAt(4, 4): true, // e5
}

// HeuristicScore rates a legal move from the mover's point of view. rng may be
// nil or randomness zero for a deterministic score.
func HeuristicScore(pos chess.Position, m chess.Move, randomness float64, rng *rand.Rand) float64 {
	var s float64
	if m.IsCapture {
		s += float64(m.Captured.Value()) * captureWeight
	}
	if m.IsPromotion {
		s += promotionBonus
	}
	if m.IsCastleKingSide || m.IsCastleQueenSide {
		s += castlingBonus
	}
	if centerSquares[m.To] {
		s += centerBonus
	}
	if (m.Piece == chess.Knight || m.Piece == chess.Bishop) && m.From.Rank() == backRank(m.Color) {
		s += developmentBonus
	}
	if m.IsCheck {
		s += checkBonus
	}
	after := pos.After(m)
	material := float64(after.Material())
	if m.Color == chess.Black {
		material = -material
	}
	s += material * materialWeight
	if rng != nil && randomness > 0 {
		s += rng.Float64() * randomness
	}
	return s
}

func backRank(c chess.Color) int {
	if c == chess.Black {
		return 7
	}
	return 0
}

// HeuristicMove picks the best scoring legal move. ok is false when there is none.
func HeuristicMove(g *chess.Game, randomness float64, rng *rand.Rand) (best chess.Move, score float64, ok bool) {
	pos := g.Position()
	for _, m := range g.LegalMoves() {
		s := HeuristicScore(pos, m, randomness, rng)
		if !ok || s > score {
			best, score, ok = m, s, true
		}
	}
	return best, score, ok
}
