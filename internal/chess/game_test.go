package chess

import (
	"math/rand"
	"testing"
)

func playAll(t *testing.T, g *Game, moves ...string) {
	t.Helper()
	for _, mv := range moves {
		if !g.MakeMoveUCI(mv) {
			t.Fatalf("move %s rejected at %s", mv, g.FEN())
		}
	}
}

func TestScholarsMate(t *testing.T) {
	g := NewGame()
	playAll(t, g, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
	if !g.IsGameOver() {
		t.Fatalf("expected game over")
	}
	res := g.Result()
	if res.Status != StatusCheckmate || res.Winner != WinnerWhite {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(g.LegalMoves()) != 0 {
		t.Fatalf("checkmated side must have no moves")
	}
	if g.MakeMoveUCI("e8e7") {
		t.Fatalf("moves after checkmate must be rejected")
	}
	last := g.History()[len(g.History())-1]
	if !last.IsCheck || !last.IsCapture || last.Captured != Pawn {
		t.Fatalf("unexpected flags on mating move: %+v", last)
	}
}

func TestStalemate(t *testing.T) {
	g, err := NewGameFromFEN("7k/4Q3/6K1/8/8/8/8/8 w - - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	playAll(t, g, "e7f7")
	res := g.Result()
	if res.Status != StatusStalemate || res.Winner != WinnerDraw {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFiftyMoveRule(t *testing.T) {
	g, err := NewGameFromFEN("7k/8/8/8/8/8/8/N6K w - - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cycle := []string{"a1b3", "h8g8", "b3a1", "g8h8"}
	for i := 0; i < 25; i++ {
		if g.IsGameOver() {
			t.Fatalf("game ended early at cycle %d: %+v", i, g.Result())
		}
		playAll(t, g, cycle...)
	}
	res := g.Result()
	if res.Status != StatusFiftyMove || res.Winner != WinnerDraw {
		t.Fatalf("expected fifty-move draw, got %+v (halfmove=%d)", res, g.Position().HalfmoveClock)
	}
	if !g.Undo() || g.IsGameOver() {
		t.Fatalf("undo should restore the ongoing state")
	}
}

func TestCastling(t *testing.T) {
	g, err := NewGameFromFEN("r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var kingSide, queenSide bool
	for _, m := range g.LegalMoves() {
		if m.IsCastleKingSide {
			kingSide = true
		}
		if m.IsCastleQueenSide {
			queenSide = true
		}
	}
	if !kingSide || !queenSide {
		t.Fatalf("expected both castles, got k=%v q=%v", kingSide, queenSide)
	}
	playAll(t, g, "e1g1")
	if got, want := g.FEN(), "r3k2r/8/8/8/8/8/8/R4RK1 b kq - 1 1"; got != want {
		t.Fatalf("fen after O-O: got %q want %q", got, want)
	}
	playAll(t, g, "a8b8")
	if got := g.Position().Castling.String(); got != "k" {
		t.Fatalf("rook move should clear queen side right, got %q", got)
	}
}

func TestCastlingThroughAttackRejected(t *testing.T) {
	g, err := NewGameFromFEN("r3k2r/8/8/8/8/8/5r2/R3K2R w KQkq - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.MakeMoveUCI("e1g1") {
		t.Fatalf("castling through attacked f1 must be illegal")
	}
	if !g.MakeMoveUCI("e1c1") {
		t.Fatalf("queen side castling should be legal")
	}
}

func TestCastlingOutOfCheckRejected(t *testing.T) {
	g, err := NewGameFromFEN("4k3/4r3/8/8/8/8/8/R3K2R w KQ - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, m := range g.LegalMoves() {
		if m.IsCastleKingSide || m.IsCastleQueenSide {
			t.Fatalf("castling while in check: %s", m.UCI())
		}
	}
}

func TestEnPassant(t *testing.T) {
	g := NewGame()
	playAll(t, g, "e2e4", "a7a6", "e4e5", "d7d5")
	if got := g.Position().EnPassant.String(); got != "d6" {
		t.Fatalf("en passant target: got %s", got)
	}
	before := g.FEN()
	playAll(t, g, "e5d6")
	last := g.History()[len(g.History())-1]
	if !last.IsEnPassant || !last.IsCapture {
		t.Fatalf("expected en passant capture flags: %+v", last)
	}
	if got, want := g.FEN(), "rnbqkbnr/1pp1pppp/p2P4/8/8/8/PPPP1PPP/RNBQKBNR b KQkq - 0 3"; got != want {
		t.Fatalf("fen: got %q want %q", got, want)
	}
	g.Undo()
	if g.FEN() != before {
		t.Fatalf("undo en passant: got %q want %q", g.FEN(), before)
	}
}

func TestEnPassantClearedAfterOneMove(t *testing.T) {
	g := NewGame()
	playAll(t, g, "e2e4")
	if g.Position().EnPassant.String() != "e3" {
		t.Fatalf("expected e3 target")
	}
	playAll(t, g, "g8f6")
	if g.Position().EnPassant != NoSquare {
		t.Fatalf("target must be cleared")
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	g, err := NewGameFromFEN("8/P6k/8/8/8/8/8/K7 w - - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	clone := g.Clone()
	playAll(t, g, "a7a8")
	if got, want := g.FEN(), "Q7/7k/8/8/8/8/8/K7 b - - 0 1"; got != want {
		t.Fatalf("fen: got %q want %q", got, want)
	}
	playAll(t, clone, "a7a8n")
	pos := clone.Position()
	if pc := pos.PieceAt(SquareAt(0, 7)); pc.Type != Knight {
		t.Fatalf("underpromotion ignored: %+v", pc)
	}
}

func TestIllegalMovesRejected(t *testing.T) {
	g, err := NewGameFromFEN("4k3/4r3/8/8/8/8/4B3/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fen := g.FEN()
	for _, mv := range []string{"e2d3", "e1e2", "a1a2", "zz99", "e2"} {
		if g.MakeMoveUCI(mv) {
			t.Fatalf("%s should be illegal", mv)
		}
	}
	if g.FEN() != fen {
		t.Fatalf("rejected moves must not mutate state")
	}
}

func TestRandomWalkLegalityAndUndo(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for game := 0; game < 8; game++ {
		g := NewGame()
		for ply := 0; ply < 120 && !g.IsGameOver(); ply++ {
			moves := g.LegalMoves()
			before := g.FEN()
			mover := g.Turn()
			for _, m := range moves {
				if !g.MakeMove(m) {
					t.Fatalf("generated move %s rejected at %s", m.UCI(), before)
				}
				pos := g.Position()
				if pos.InCheck(mover) {
					t.Fatalf("move %s leaves own king in check at %s", m.UCI(), before)
				}
				if !g.Undo() || g.FEN() != before {
					t.Fatalf("undo of %s: got %q want %q", m.UCI(), g.FEN(), before)
				}
			}
			g.MakeMove(moves[r.Intn(len(moves))])
		}
	}
}

func TestUndoOnEmptyHistory(t *testing.T) {
	if NewGame().Undo() {
		t.Fatalf("undo without moves must report false")
	}
}
