package chesstrain

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/runenkrieg/internal/chess"
)

// PGNHeader carries the optional tag pairs written before the move text.
type PGNHeader struct {
	Event string
	Site  string
	Round int
	Date  time.Time
}

// SAN converts a simulated game's UCI moves to standard algebraic notation.
func SAN(rec GameRecord) ([]string, error) {
	game, err := referenceGame(rec.StartFEN)
	if err != nil {
		return nil, err
	}
	own, err := chess.NewGameFromFEN(startOrDefault(rec.StartFEN))
	if err != nil {
		return nil, err
	}
	notation := nchess.UCINotation{}
	san := make([]string, 0, len(rec.Moves))
	for i, uci := range rec.Moves {
		if !own.MakeMoveUCI(uci) {
			return nil, fmt.Errorf("ply %d %q: illegal move", i+1, uci)
		}
		pos := game.Position()
		mv, err := notation.Decode(pos, uci)
		if err != nil {
			return nil, fmt.Errorf("ply %d %q: %w", i+1, uci, err)
		}
		san = append(san, nchess.AlgebraicNotation{}.Encode(pos, mv))
		if err := game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("ply %d %q: %w", i+1, uci, err)
		}
	}
	return san, nil
}

func startOrDefault(fen string) string {
	if fen == "" {
		return chess.StartFEN
	}
	return fen
}

func referenceGame(startFEN string) (*nchess.Game, error) {
	if startFEN == "" || startFEN == chess.StartFEN {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(startFEN)
	if err != nil {
		return nil, fmt.Errorf("start fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// ExportPGN renders one simulated game as PGN text.
func ExportPGN(rec GameRecord, h PGNHeader) (string, error) {
	san, err := SAN(rec)
	if err != nil {
		return "", err
	}
	date := h.Date
	if date.IsZero() {
		date = time.Now()
	}
	event := h.Event
	if strings.TrimSpace(event) == "" {
		event = "Runenkrieg self-play"
	}
	site := h.Site
	if strings.TrimSpace(site) == "" {
		site = "local"
	}
	result := pgnResult(rec.Winner)

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(event))
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(site))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	if h.Round > 0 {
		fmt.Fprintf(&b, "[Round \"%d\"]\n", h.Round)
	}
	b.WriteString("[White \"heuristic\"]\n[Black \"heuristic\"]\n")
	if rec.StartFEN != "" && rec.StartFEN != chess.StartFEN {
		fmt.Fprintf(&b, "[SetUp \"1\"]\n[FEN \"%s\"]\n", rec.StartFEN)
	}
	fmt.Fprintf(&b, "[Termination \"%s\"]\n", rec.Termination)
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	startNo, blackFirst := 1, false
	if rec.StartFEN != "" {
		if pos, err := chess.ParseFEN(rec.StartFEN); err == nil {
			startNo = pos.FullmoveNumber
			blackFirst = pos.Turn == chess.Black
		}
	}
	moveNo := startNo
	for i, s := range san {
		white := (i%2 == 0) != blackFirst
		switch {
		case i == 0 && blackFirst:
			fmt.Fprintf(&b, "%d... %s ", moveNo, s)
			moveNo++
		case white:
			fmt.Fprintf(&b, "%d. %s ", moveNo, s)
		default:
			b.WriteString(s + " ")
			moveNo++
		}
	}
	b.WriteString(result)
	return b.String(), nil
}

func pgnResult(w chess.Winner) string {
	switch w {
	case chess.WinnerWhite:
		return "1-0"
	case chess.WinnerBlack:
		return "0-1"
	case chess.WinnerDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func sanitizePGN(s string) string {
	return strings.NewReplacer("\"", "'", "\n", " ", "\r", " ").Replace(s)
}
