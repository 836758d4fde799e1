package chess

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

var referenceFENs = []string{
	StartFEN,
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	"r3k2r/Pppp1ppp/1b3nbN/nP6/BBP1P3/q4N2/Pp1P2PP/R2Q1RK1 w kq - 0 1",
	"rnbq1k1r/pp1Pbppp/2p5/8/2B5/8/PPP1NnPP/RNBQK2R w KQ - 1 8",
	"rnbqkbnr/1pp1pppp/p7/3pP3/8/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 3",
}

func TestFENRoundTrip(t *testing.T) {
	for _, fen := range referenceFENs {
		g, err := NewGameFromFEN(fen)
		if err != nil {
			t.Fatalf("load %q: %v", fen, err)
		}
		if got := g.FEN(); got != fen {
			t.Fatalf("round trip: got %q want %q", got, fen)
		}
		reloaded, err := NewGameFromFEN(g.FEN())
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Position() != g.Position() {
			t.Fatalf("positions differ after reload of %q", fen)
		}
	}
}

func TestFENShortFormDefaultsClocks(t *testing.T) {
	g, err := NewGameFromFEN("4k3/8/8/8/8/8/8/4K3 w - -")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := g.FEN(); got != "4k3/8/8/8/8/8/8/4K3 w - - 0 1" {
		t.Fatalf("unexpected fen %q", got)
	}
}

func TestMalformedFEN(t *testing.T) {
	bad := []string{
		"",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP w KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNX w KQkq - 0 1",
		"rnbqkbnr/pppppppp/9/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQxq - 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq e5 0 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - -1 1",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQ1BNR w kq - 0 1",
	}
	for _, fen := range bad {
		if _, err := NewGameFromFEN(fen); !errors.Is(err, ErrInvalidFEN) {
			t.Fatalf("expected ErrInvalidFEN for %q, got %v", fen, err)
		}
	}
}

func TestParseSquare(t *testing.T) {
	sq, err := ParseSquare("e4")
	if err != nil || sq.File() != 4 || sq.Rank() != 3 {
		t.Fatalf("e4: %v %v", sq, err)
	}
	for _, s := range []string{"i1", "a9", "e", "e44"} {
		if _, err := ParseSquare(s); !errors.Is(err, ErrInvalidSquare) {
			t.Fatalf("expected ErrInvalidSquare for %q, got %v", s, err)
		}
	}
}

func TestPerft(t *testing.T) {
	cases := []struct {
		fen   string
		depth int
		nodes uint64
	}{
		{referenceFENs[0], 1, 20},
		{referenceFENs[0], 2, 400},
		{referenceFENs[0], 3, 8902},
		{referenceFENs[1], 1, 48},
		{referenceFENs[1], 2, 2039},
		{referenceFENs[2], 1, 14},
		{referenceFENs[2], 2, 191},
		{referenceFENs[2], 3, 2812},
		{referenceFENs[3], 1, 6},
		{referenceFENs[3], 2, 264},
		{referenceFENs[4], 1, 44},
		{referenceFENs[4], 2, 1486},
	}
	for _, tc := range cases {
		g, err := NewGameFromFEN(tc.fen)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := g.Perft(tc.depth); got != tc.nodes {
			t.Fatalf("perft(%d) %q: got %d want %d", tc.depth, tc.fen, got, tc.nodes)
		}
	}
}

// The legal move set must agree with an independent implementation.
func TestLegalMovesMatchReferenceLibrary(t *testing.T) {
	for _, fen := range referenceFENs {
		opt, err := nchess.FEN(fen)
		if err != nil {
			t.Fatalf("reference fen %q: %v", fen, err)
		}
		ref := nchess.NewGame(opt)
		want := map[string]bool{}
		for _, m := range ref.ValidMoves() {
			want[m.String()] = true
		}

		g, err := NewGameFromFEN(fen)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		got := g.LegalMoves()
		if len(got) != len(want) {
			t.Fatalf("%q: got %d moves want %d", fen, len(got), len(want))
		}
		for _, m := range got {
			if !want[m.UCI()] {
				t.Fatalf("%q: move %s not in reference set", fen, m.UCI())
			}
		}
	}
}
