package chesstrain

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/park285/runenkrieg/internal/chess"
	"github.com/park285/runenkrieg/internal/progress"
	"go.uber.org/zap"
)

type Termination string

const (
	TerminationCheckmate Termination = "checkmate"
	TerminationStalemate Termination = "stalemate"
	TerminationFiftyMove Termination = "fiftyMove"
	TerminationMaxPlies  Termination = "maxPlies"
)

const (
	DefaultGames    = 50
	DefaultMaxPlies = 200
)

type Options struct {
	Games      int     `json:"games" yaml:"games"`
	MaxPlies   int     `json:"maxPlies" yaml:"max_plies"`
	Randomness float64 `json:"randomness" yaml:"randomness"`
	Seed       int64   `json:"seed,omitempty" yaml:"seed"`
	StartFEN   string  `json:"startFen,omitempty" yaml:"start_fen"`
}

func (o Options) withDefaults() Options {
	if o.Games <= 0 {
		o.Games = DefaultGames
	}
	if o.MaxPlies <= 0 {
		o.MaxPlies = DefaultMaxPlies
	}
	if o.Randomness < 0 {
		o.Randomness = 0
	}
	if o.StartFEN == "" {
		o.StartFEN = chess.StartFEN
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// GameRecord is one simulated game, replayable from StartFEN.
type GameRecord struct {
	StartFEN    string       `json:"startFen"`
	Moves       []string     `json:"moves"`
	Winner      chess.Winner `json:"winner"`
	Termination Termination  `json:"termination"`
}

func (r GameRecord) Plies() int { return len(r.Moves) }

type Summary struct {
	Games        int                 `json:"games"`
	WhiteWins    int                 `json:"whiteWins"`
	BlackWins    int                 `json:"blackWins"`
	Draws        int                 `json:"draws"`
	AveragePlies float64             `json:"averagePlies"`
	Terminations map[Termination]int `json:"terminations"`
}

type SimulationResult struct {
	Games   []GameRecord `json:"games"`
	Summary Summary      `json:"summary"`
}

// Simulate plays opts.Games heuristic self-play games. It stops with
// progress.ErrCanceled when ctx is canceled between games.
func Simulate(ctx context.Context, opts Options, report progress.Reporter, logger *zap.Logger) (*SimulationResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if _, err := chess.ParseFEN(opts.StartFEN); err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	tr := progress.NewTracker(ctx, opts.Games, report)
	tr.Phase("simulating chess games")

	out := &SimulationResult{Summary: Summary{Terminations: make(map[Termination]int)}}
	plies := 0
	for i := 0; i < opts.Games; i++ {
		if err := tr.Step(i); err != nil {
			return nil, err
		}
		rec, err := playGame(opts, rng)
		if err != nil {
			return nil, err
		}
		out.Games = append(out.Games, rec)
		out.Summary.add(rec)
		plies += rec.Plies()
	}
	if err := tr.Step(opts.Games); err != nil {
		return nil, err
	}
	if n := len(out.Games); n > 0 {
		out.Summary.AveragePlies = float64(plies) / float64(n)
	}
	logger.Info("chess_simulation_done",
		zap.Int("games", out.Summary.Games),
		zap.Int("white_wins", out.Summary.WhiteWins),
		zap.Int("black_wins", out.Summary.BlackWins),
		zap.Int("draws", out.Summary.Draws),
		zap.Float64("avg_plies", out.Summary.AveragePlies),
	)
	return out, nil
}

func (s *Summary) add(r GameRecord) {
	s.Games++
	switch r.Winner {
	case chess.WinnerWhite:
		s.WhiteWins++
	case chess.WinnerBlack:
		s.BlackWins++
	default:
		s.Draws++
	}
	s.Terminations[r.Termination]++
}

func playGame(opts Options, rng *rand.Rand) (GameRecord, error) {
	g, err := chess.NewGameFromFEN(opts.StartFEN)
	if err != nil {
		return GameRecord{}, err
	}
	rec := GameRecord{StartFEN: opts.StartFEN}
	for ply := 0; ply < opts.MaxPlies && !g.IsGameOver(); ply++ {
		m, _, ok := HeuristicMove(g, opts.Randomness, rng)
		if !ok || !g.MakeMove(m) {
			break
		}
		rec.Moves = append(rec.Moves, m.UCI())
	}
	res := g.Result()
	switch res.Status {
	case chess.StatusCheckmate:
		rec.Termination = TerminationCheckmate
	case chess.StatusStalemate:
		rec.Termination = TerminationStalemate
	case chess.StatusFiftyMove:
		rec.Termination = TerminationFiftyMove
	default:
		rec.Termination = TerminationMaxPlies
	}
	rec.Winner = res.Winner
	if rec.Termination == TerminationMaxPlies {
		rec.Winner = chess.WinnerDraw
	}
	return rec, nil
}
