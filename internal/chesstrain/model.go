package chesstrain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/park285/runenkrieg/internal/chess"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/stats"
	"go.uber.org/zap"
)

const (
	ModelVersion      = 1
	InsightMinSamples = 5
)

type MoveStats struct {
	Total  int `json:"total"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

func (s MoveStats) ExpectedScore() float64 {
	return stats.ExpectedScore(float64(s.Wins), float64(s.Draws), float64(s.Total))
}

func (s MoveStats) Confidence() float64 { return stats.Confidence(float64(s.Total)) }

// Table maps a position signature to per-move statistics keyed by UCI.
type Table map[string]map[string]*MoveStats

func (t Table) record(key, move string, w, l, d int) {
	moves, ok := t[key]
	if !ok {
		moves = make(map[string]*MoveStats)
		t[key] = moves
	}
	s, ok := moves[move]
	if !ok {
		s = &MoveStats{}
		moves[move] = s
	}
	s.Total++
	s.Wins += w
	s.Losses += l
	s.Draws += d
}

// Model is the trained move recommender. Strict keys include castling and en
// passant state; relaxed keys only board and side to move.
type Model struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Games       int       `json:"games"`
	Strict      Table     `json:"strict"`
	Relaxed     Table     `json:"relaxed"`
}

func NewModel() *Model {
	return &Model{Version: ModelVersion, Strict: make(Table), Relaxed: make(Table)}
}

func StrictKey(p chess.Position) string {
	return strings.Join([]string{p.BoardFEN(), sideLetter(p.Turn), p.Castling.String(), p.EnPassant.String()}, " ")
}

func RelaxedKey(p chess.Position) string {
	return p.BoardFEN() + " " + sideLetter(p.Turn)
}

func sideLetter(c chess.Color) string {
	if c == chess.Black {
		return "b"
	}
	return "w"
}

// Train folds games into a copy of base (or a fresh model) from each mover's
// point of view. The base model is not modified.
func Train(ctx context.Context, games []GameRecord, base *Model, report progress.Reporter, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := base.clone()
	tr := progress.NewTracker(ctx, len(games), report)
	tr.Phase("aggregating chess statistics")
	for i, rec := range games {
		if err := tr.Step(i); err != nil {
			return nil, err
		}
		if err := m.addGame(rec); err != nil {
			logger.Warn("chess_train_skip_game", zap.Int("index", i), zap.Error(err))
			continue
		}
		m.Games++
	}
	if err := tr.Step(len(games)); err != nil {
		return nil, err
	}
	m.Version = ModelVersion
	m.GeneratedAt = time.Now().UTC()
	logger.Info("chess_train_done",
		zap.Int("games", m.Games),
		zap.Int("strict_positions", len(m.Strict)),
		zap.Int("relaxed_positions", len(m.Relaxed)),
	)
	return m, nil
}

func (m *Model) clone() *Model {
	out := NewModel()
	if m == nil {
		return out
	}
	out.Version, out.GeneratedAt, out.Games = m.Version, m.GeneratedAt, m.Games
	out.Strict = m.Strict.clone()
	out.Relaxed = m.Relaxed.clone()
	return out
}

func (t Table) clone() Table {
	out := make(Table, len(t))
	for key, moves := range t {
		cp := make(map[string]*MoveStats, len(moves))
		for move, s := range moves {
			st := *s
			cp[move] = &st
		}
		out[key] = cp
	}
	return out
}

// prune drops null positions and move entries left by a hand-edited import.
func (t Table) prune(name string, logger *zap.Logger) {
	for key, moves := range t {
		for move, s := range moves {
			if s == nil {
				logger.Warn("chess_model_null_move", zap.String("table", name), zap.String("position", key), zap.String("move", move))
				delete(moves, move)
			}
		}
		if len(moves) == 0 {
			delete(t, key)
		}
	}
}

func (m *Model) addGame(rec GameRecord) error {
	start := rec.StartFEN
	if start == "" {
		start = chess.StartFEN
	}
	g, err := chess.NewGameFromFEN(start)
	if err != nil {
		return err
	}
	// replay first so a corrupt record leaves the tables untouched
	type sample struct {
		strict, relaxed, move string
		mover                 chess.Color
	}
	var samples []sample
	for _, uci := range rec.Moves {
		pos := g.Position()
		if !g.MakeMoveUCI(uci) {
			return fmt.Errorf("illegal move %s at %s", uci, pos.FEN())
		}
		samples = append(samples, sample{StrictKey(pos), RelaxedKey(pos), uci, pos.Turn})
	}
	for _, s := range samples {
		w, l, d := outcomeFor(rec.Winner, s.mover)
		m.Strict.record(s.strict, s.move, w, l, d)
		m.Relaxed.record(s.relaxed, s.move, w, l, d)
	}
	return nil
}

func outcomeFor(winner chess.Winner, mover chess.Color) (w, l, d int) {
	switch winner {
	case chess.WinnerWhite:
		if mover == chess.White {
			return 1, 0, 0
		}
		return 0, 1, 0
	case chess.WinnerBlack:
		if mover == chess.Black {
			return 1, 0, 0
		}
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

type Source string

const (
	SourceStrict    Source = "strict"
	SourceRelaxed   Source = "relaxed"
	SourceHeuristic Source = "heuristic"
	SourceNone      Source = "none"
)

// Suggestion is a recommended move. With SourceNone the move is the zero no-op value.
type Suggestion struct {
	Move          chess.Move `json:"-"`
	UCI           string     `json:"uci"`
	ExpectedScore float64    `json:"expectedScore"`
	Confidence    float64    `json:"confidence"`
	Samples       int        `json:"samples"`
	Source        Source     `json:"source"`
}

// ChooseMove prefers strict statistics, then relaxed, then the heuristic.
// A position without legal moves yields a SourceNone suggestion.
func (m *Model) ChooseMove(g *chess.Game, rng *rand.Rand) Suggestion {
	legal := g.LegalMoves()
	if len(legal) == 0 {
		return Suggestion{Source: SourceNone}
	}
	if m != nil {
		pos := g.Position()
		if s, ok := pickFromTable(m.Strict[StrictKey(pos)], legal); ok {
			s.Source = SourceStrict
			return s
		}
		if s, ok := pickFromTable(m.Relaxed[RelaxedKey(pos)], legal); ok {
			s.Source = SourceRelaxed
			return s
		}
	}
	best, _, _ := HeuristicMove(g, 0, rng)
	return Suggestion{Move: best, UCI: best.UCI(), Source: SourceHeuristic}
}

func pickFromTable(moves map[string]*MoveStats, legal []chess.Move) (Suggestion, bool) {
	if len(moves) == 0 {
		return Suggestion{}, false
	}
	var best Suggestion
	found := false
	for _, mv := range legal {
		st, ok := moves[mv.UCI()]
		if !ok || st.Total == 0 {
			continue
		}
		cand := Suggestion{
			Move:          mv,
			UCI:           mv.UCI(),
			ExpectedScore: st.ExpectedScore(),
			Confidence:    st.Confidence(),
			Samples:       st.Total,
		}
		if !found || better(cand, best) {
			best, found = cand, true
		}
	}
	return best, found
}

func better(a, b Suggestion) bool {
	if a.ExpectedScore != b.ExpectedScore {
		return a.ExpectedScore > b.ExpectedScore
	}
	return a.Confidence > b.Confidence
}

type Insight struct {
	Position      string    `json:"position"`
	Move          string    `json:"move"`
	Stats         MoveStats `json:"stats"`
	ExpectedScore float64   `json:"expectedScore"`
	Confidence    float64   `json:"confidence"`
}

// Insights lists strict-key moves with at least InsightMinSamples samples,
// best expected score first. Scores go through the batcher so an accelerator can compute them.
func (m *Model) Insights(ctx context.Context, b *stats.Batcher, limit int) ([]Insight, error) {
	var out []Insight
	for key, moves := range m.Strict {
		for uci, st := range moves {
			if st.Total >= InsightMinSamples {
				out = append(out, Insight{Position: key, Move: uci, Stats: *st})
			}
		}
	}
	wins := make([]float64, len(out))
	totals := make([]float64, len(out))
	draws := make([]float64, len(out))
	for i, in := range out {
		wins[i], totals[i], draws[i] = float64(in.Stats.Wins), float64(in.Stats.Total), float64(in.Stats.Draws)
	}
	if b == nil {
		b = stats.NewBatcher(nil, nil)
	}
	scores, err := b.Moves(ctx, wins, totals, draws)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ExpectedScore = scores[i].ExpectedScore
		out[i].Confidence = scores[i].Confidence
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpectedScore != out[j].ExpectedScore {
			return out[i].ExpectedScore > out[j].ExpectedScore
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Move < out[j].Move
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecodeModel parses a serialized model. An unknown version is accepted with a warning.
func DecodeModel(raw []byte, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := NewModel()
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode chess model: %w", err)
	}
	if m.Version != ModelVersion {
		logger.Warn("chess_model_version_mismatch", zap.Int("got", m.Version), zap.Int("want", ModelVersion))
	}
	if m.Strict == nil {
		m.Strict = make(Table)
	}
	if m.Relaxed == nil {
		m.Relaxed = make(Table)
	}
	m.Strict.prune("strict", logger)
	m.Relaxed.prune("relaxed", logger)
	return m, nil
}
