package chesstrain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/park285/runenkrieg/internal/chess"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimulateSinglePly(t *testing.T) {
	res, err := Simulate(context.Background(), Options{Games: 1, MaxPlies: 1, Seed: 1}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Games, 1)
	g := res.Games[0]
	require.Len(t, g.Moves, 1)
	require.Equal(t, TerminationMaxPlies, g.Termination)
	require.Equal(t, chess.WinnerDraw, g.Winner)
	require.Equal(t, 1, res.Summary.Draws)
}

func TestSimulateProducesLegalReplayableGames(t *testing.T) {
	var reports int
	res, err := Simulate(context.Background(), Options{Games: 4, MaxPlies: 60, Randomness: 0.5, Seed: 9}, func(float64, string) { reports++ }, nil)
	require.NoError(t, err)
	require.Len(t, res.Games, 4)
	require.Greater(t, reports, 0)
	for _, rec := range res.Games {
		g := chess.NewGame()
		for _, mv := range rec.Moves {
			require.True(t, g.MakeMoveUCI(mv), "replay %s", mv)
		}
		require.LessOrEqual(t, rec.Plies(), 60)
	}
}

func TestSimulateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Simulate(ctx, Options{Games: 10, MaxPlies: 4, Seed: 1}, nil, nil)
	require.True(t, errors.Is(err, progress.ErrCanceled))
}

func TestSimulateRejectsBadStart(t *testing.T) {
	_, err := Simulate(context.Background(), Options{StartFEN: "nonsense"}, nil, nil)
	require.ErrorIs(t, err, chess.ErrInvalidFEN)
}

func TestHeuristicPrefersWinningCapture(t *testing.T) {
	g, err := chess.NewGameFromFEN("4k3/8/8/3q4/4P3/8/8/4K3 w - - 0 1")
	require.NoError(t, err)
	m, _, ok := HeuristicMove(g, 0, nil)
	require.True(t, ok)
	require.Equal(t, "e4d5", m.UCI())
}

func TestChooseMoveUsesStatistics(t *testing.T) {
	games := []GameRecord{
		{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite},
		{Moves: []string{"d2d4"}, Winner: chess.WinnerWhite},
		{Moves: []string{"d2d4"}, Winner: chess.WinnerWhite},
		{Moves: []string{"g1f3"}, Winner: chess.WinnerBlack},
	}
	m, err := Train(context.Background(), games, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 4, m.Games)

	s := m.ChooseMove(chess.NewGame(), nil)
	require.Equal(t, SourceStrict, s.Source)
	// e2e4 and d2d4 both score 1.0; d2d4 has more samples
	require.Equal(t, "d2d4", s.UCI)
	require.Equal(t, 2, s.Samples)
	require.InDelta(t, 1.0, s.ExpectedScore, 1e-12)

	st := m.Strict[StrictKey(chess.NewGame().Position())]["g1f3"]
	require.Equal(t, MoveStats{Total: 1, Losses: 1}, *st)
}

func TestChooseMoveRelaxedAndHeuristicFallback(t *testing.T) {
	m, err := Train(context.Background(), []GameRecord{{Moves: []string{"b1c3"}, Winner: chess.WinnerDraw}}, nil, nil, nil)
	require.NoError(t, err)

	noCastle, err := chess.NewGameFromFEN("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w - - 0 1")
	require.NoError(t, err)
	s := m.ChooseMove(noCastle, nil)
	require.Equal(t, SourceRelaxed, s.Source)
	require.Equal(t, "b1c3", s.UCI)
	require.InDelta(t, 0.5, s.ExpectedScore, 1e-12)

	other, err := chess.NewGameFromFEN("4k3/8/8/3q4/4P3/8/8/4K3 w - - 0 1")
	require.NoError(t, err)
	s = m.ChooseMove(other, nil)
	require.Equal(t, SourceHeuristic, s.Source)
	require.Equal(t, "e4d5", s.UCI)
}

func TestChooseMoveWithoutLegalMoves(t *testing.T) {
	g := chess.NewGame()
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		require.True(t, g.MakeMoveUCI(mv))
	}
	require.True(t, g.IsGameOver())
	var m *Model
	s := m.ChooseMove(g, nil)
	require.Equal(t, SourceNone, s.Source)
	require.True(t, s.Move.IsNull())
}

func TestTrainSkipsCorruptGames(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m, err := Train(context.Background(), []GameRecord{
		{Moves: []string{"e2e4", "e2e4"}, Winner: chess.WinnerWhite},
		{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite},
	}, nil, nil, zap.New(core))
	require.NoError(t, err)
	require.Equal(t, 1, m.Games)
	require.Equal(t, 1, logs.FilterMessage("chess_train_skip_game").Len())
	require.Equal(t, 1, m.Strict[StrictKey(chess.NewGame().Position())]["e2e4"].Total)
}

func TestInsightsThresholdAndJSON(t *testing.T) {
	var games []GameRecord
	for i := 0; i < 5; i++ {
		games = append(games, GameRecord{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite})
	}
	games = append(games, GameRecord{Moves: []string{"a2a3"}, Winner: chess.WinnerWhite})
	m, err := Train(context.Background(), games, nil, nil, nil)
	require.NoError(t, err)

	ins, err := m.Insights(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	require.Equal(t, "e2e4", ins[0].Move)
	require.InDelta(t, 1.0, ins[0].ExpectedScore, 1e-12)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	back, err := DecodeModel(raw, nil)
	require.NoError(t, err)
	require.Equal(t, m.Strict, back.Strict)
	require.Equal(t, m.Relaxed, back.Relaxed)
	require.Equal(t, m.Games, back.Games)

	// continuing training extends the decoded model
	more, err := Train(context.Background(), games[:1], back, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 6, more.Strict[StrictKey(chess.NewGame().Position())]["e2e4"].Total)
}

func TestDecodeModelWarnsOnVersion(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m, err := DecodeModel([]byte(`{"version":7,"games":2}`), zap.New(core))
	require.NoError(t, err)
	require.Equal(t, 2, m.Games)
	require.NotNil(t, m.Strict)
	require.Equal(t, 1, logs.FilterMessage("chess_model_version_mismatch").Len())

	_, err = DecodeModel([]byte(`{`), nil)
	require.Error(t, err)
}

func TestDecodeModelDropsNullMoves(t *testing.T) {
	start := chess.NewGame().Position()
	raw, err := json.Marshal(map[string]any{
		"version": ModelVersion,
		"strict": map[string]any{
			StrictKey(start): map[string]any{"e2e4": nil, "d2d4": MoveStats{Total: 2, Wins: 2}},
			"empty":          map[string]any{"a2a3": nil},
		},
		"relaxed": map[string]any{RelaxedKey(start): map[string]any{"b1c3": nil}},
	})
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	m, err := DecodeModel(raw, zap.New(core))
	require.NoError(t, err)
	require.Len(t, m.Strict, 1)
	require.NotContains(t, m.Strict[StrictKey(start)], "e2e4")
	require.Empty(t, m.Relaxed)
	require.Equal(t, 3, logs.FilterMessage("chess_model_null_move").Len())

	s := m.ChooseMove(chess.NewGame(), nil)
	require.Equal(t, SourceStrict, s.Source)
	require.Equal(t, "d2d4", s.UCI)

	more, err := Train(context.Background(), []GameRecord{{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite}}, m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, more.Strict[StrictKey(start)]["e2e4"].Total)
}

func TestTrainCanceledLeavesBaseUntouched(t *testing.T) {
	base, err := Train(context.Background(), []GameRecord{{Moves: []string{"e2e4"}, Winner: chess.WinnerWhite}}, nil, nil, nil)
	require.NoError(t, err)
	before, err := json.Marshal(base)
	require.NoError(t, err)

	games := make([]GameRecord, 200)
	for i := range games {
		games[i] = GameRecord{Moves: []string{"d2d4", "d7d5"}, Winner: chess.WinnerDraw}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	_, err = Train(ctx, games, base, func(float64, string) {
		calls++
		if calls == 3 {
			cancel()
		}
	}, nil)
	require.ErrorIs(t, err, progress.ErrCanceled)

	after, err := json.Marshal(base)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
	require.Equal(t, 1, base.Games)
	require.Len(t, base.Strict, 1)
}

func TestExportPGN(t *testing.T) {
	rec := GameRecord{
		Moves:       []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"},
		Winner:      chess.WinnerWhite,
		Termination: TerminationCheckmate,
	}
	san, err := SAN(rec)
	require.NoError(t, err)
	require.Equal(t, []string{"e4", "e5", "Bc4", "Nc6", "Qh5", "Nf6", "Qxf7#"}, san)

	pgn, err := ExportPGN(rec, PGNHeader{Round: 3})
	require.NoError(t, err)
	require.Contains(t, pgn, "[Result \"1-0\"]")
	require.Contains(t, pgn, "[Round \"3\"]")
	require.Contains(t, pgn, "4. Qxf7# 1-0")
	require.True(t, strings.HasPrefix(pgn, "[Event \"Runenkrieg self-play\"]"))

	_, err = SAN(GameRecord{Moves: []string{"e2e5"}})
	require.Error(t, err)
}
