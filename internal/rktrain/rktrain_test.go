package rktrain

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/stats"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func round(playerCard, aiCard string, winner cards.Winner, playerTokens, aiTokens int) cards.RoundResult {
	return cards.RoundResult{
		Round:              1,
		PlayerCard:         playerCard,
		AICard:             aiCard,
		PlayerTokensBefore: playerTokens,
		AITokensBefore:     aiTokens,
		PlayerTokensAfter:  playerTokens,
		AITokensAfter:      aiTokens,
		Weather:            cards.WeatherClear,
		PlayerHero:         "Brakka",
		AIHero:             "Liora",
		Winner:             winner,
	}
}

func repeat(r cards.RoundResult, n int) []cards.RoundResult {
	out := make([]cards.RoundResult, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func TestContextKeyClampsDelta(t *testing.T) {
	a := KeyFromRound(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 12, 5))
	b := KeyFromRound(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 10, 5))
	require.Equal(t, a, b)
	require.Equal(t, 5, a.TokenDelta)
	require.Equal(t, "Feuer Funke|Klar|Brakka vs Liora|5", a.String())

	c := KeyFromRound(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 0, 9))
	require.Equal(t, -5, c.TokenDelta)

	back, err := ParseContextKey(a.String())
	require.NoError(t, err)
	require.Equal(t, a, back)

	_, err = ParseContextKey("only|three|parts")
	require.Error(t, err)
	_, err = ParseContextKey("a|b|c|x")
	require.Error(t, err)
}

func TestTrainZeroRounds(t *testing.T) {
	m, err := Train(context.Background(), nil, nil, Options{}, nil)
	require.NoError(t, err)
	require.Empty(t, m.Contexts)
	require.Equal(t, 0, m.Analysis.TotalRounds)
	require.Equal(t, 0, m.Analysis.Contexts)
	require.Zero(t, m.Analysis.AIWinRate)
	require.Empty(t, m.Analysis.Resampling)
}

func TestTrainAggregatesAndPicksBestResponse(t *testing.T) {
	var rounds []cards.RoundResult
	rounds = append(rounds, repeat(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 5, 5), 30)...)
	rounds = append(rounds, repeat(round("Feuer Funke", "Erde Funke", cards.WinnerPlayer, 5, 5), 10)...)
	rounds = append(rounds, repeat(round("Feuer Funke", "Erde Funke", cards.WinnerAI, 5, 5), 10)...)
	rounds = append(rounds, round("Feuer Funke", "Eis Funke", cards.WinnerDraw, 5, 5))

	var fractions []float64
	m, err := Train(context.Background(), rounds, nil, Options{}, func(f float64, _ string) { fractions = append(fractions, f) })
	require.NoError(t, err)
	require.NotEmpty(t, fractions)
	require.InDelta(t, 1.0, fractions[len(fractions)-1], 1e-9)

	key := KeyFromRound(rounds[0])
	e := m.Context(key)
	require.NotNil(t, e)
	require.Equal(t, CardStats{Wins: 30, Total: 30}, *e.AICards["Wasser Funke"])
	require.Equal(t, CardStats{Wins: 10, Total: 20}, *e.AICards["Erde Funke"])
	// draws count toward the total only
	require.Equal(t, CardStats{Wins: 0, Total: 1}, *e.AICards["Eis Funke"])
	require.Equal(t, 51, e.Observed)

	meta := e.Metadata
	require.Equal(t, "Wasser Funke", meta.BestResponse)
	require.Equal(t, 30, meta.BestSamples)
	require.False(t, meta.Solid)
	require.False(t, meta.NeedsData)
	require.Equal(t, StageProvisional, meta.Stage)
	require.Equal(t, stats.Wilson(30, 30), meta.Best)
	require.Greater(t, meta.Entropy, LowEntropyBits)
	require.Equal(t, 100, meta.TargetSamples)

	a := m.Analysis
	require.Equal(t, 51, a.TotalRounds)
	require.Equal(t, 40, a.AIWins)
	require.Equal(t, 10, a.PlayerWins)
	require.Equal(t, 1, a.Draws)
	require.Equal(t, 1, a.Contexts)
	require.Equal(t, 1, a.Provisional)
	require.InDelta(t, 1.0, a.ElementWinRates["Wasser"], 1e-12)
}

func TestMetadataSolidStableAndLowEntropy(t *testing.T) {
	rounds := repeat(round("Luft Glut", "Blitz Glut", cards.WinnerAI, 3, 4), 60)
	m, err := Train(context.Background(), rounds, nil, Options{}, nil)
	require.NoError(t, err)
	meta := m.Context(KeyFromRound(rounds[0])).Metadata
	require.True(t, meta.Solid)
	require.Equal(t, StageStable, meta.Stage)
	require.True(t, meta.LowEntropy)
	require.Zero(t, meta.Entropy)
	require.Equal(t, PriorityNormal, meta.Priority)
	require.Equal(t, 100, meta.TargetSamples)
	require.Equal(t, 1, m.Analysis.LowEntropy)
}

func TestResamplePriority(t *testing.T) {
	weak := &Metadata{Best: stats.Wilson(1, 10)}
	require.Equal(t, PriorityMax, resamplePriority(ContextKey{}, 0, weak))
	require.Equal(t, PriorityHigh, resamplePriority(ContextKey{}, 10, weak))

	lead := &Metadata{Best: stats.Wilson(40, 100)}
	require.Equal(t, PriorityHigh, resamplePriority(ContextKey{TokenDelta: 3}, 100, lead))
	require.Equal(t, PriorityNormal, resamplePriority(ContextKey{TokenDelta: 2}, 100, lead))

	mid := &Metadata{Best: stats.Wilson(20, 30)}
	require.GreaterOrEqual(t, mid.Best.Lower, 0.4)
	require.LessOrEqual(t, mid.Best.Lower, 0.55)
	require.Equal(t, PriorityMed, resamplePriority(ContextKey{}, 30, mid))

	require.Equal(t, 25, targetWave(3, weak))
	require.Equal(t, 50, targetWave(30, weak))
	require.Equal(t, 100, targetWave(60, weak))
	require.Equal(t, 170, targetWave(120, lead))
	require.Equal(t, 400, targetWave(400, &Metadata{Best: stats.Wilson(350, 400)}))

	raw, err := PriorityHigh.MarshalText()
	require.NoError(t, err)
	var p Priority
	require.NoError(t, p.UnmarshalText(raw))
	require.Equal(t, PriorityHigh, p)
	require.Error(t, p.UnmarshalText([]byte("URGENT")))
}

func TestFocusSeedsOnlyForNewContexts(t *testing.T) {
	seed := FocusSeed{
		PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Liora",
		Preferred: []string{"Wasser Glut"}, PriorWeight: 10, TargetWinRate: 0.7,
	}
	m, err := Train(context.Background(), nil, nil, Options{FocusSeeds: []FocusSeed{seed}}, nil)
	require.NoError(t, err)
	e := m.Context(seed.Key())
	require.NotNil(t, e)
	require.True(t, e.Seeded)
	require.Equal(t, 0, e.Observed)
	require.Equal(t, CardStats{Wins: 7, Total: 10}, *e.AICards["Wasser Glut"])
	require.Equal(t, PriorityMax, e.Metadata.Priority)
	require.Equal(t, 1, m.Analysis.SeededContexts)

	// continuing from a model that knows the context adds no second prior
	more, err := Train(context.Background(), []cards.RoundResult{round("Feuer Funke", "Wasser Glut", cards.WinnerAI, 5, 5)}, m, Options{FocusSeeds: []FocusSeed{seed}}, nil)
	require.NoError(t, err)
	require.Equal(t, CardStats{Wins: 8, Total: 11}, *more.Context(seed.Key()).AICards["Wasser Glut"])
	// base left untouched
	require.Equal(t, CardStats{Wins: 7, Total: 10}, *m.Context(seed.Key()).AICards["Wasser Glut"])

	// a continued model still seeds contexts it has never seen
	other := seed
	other.Weather = cards.WeatherRain
	more, err = Train(context.Background(), nil, m, Options{FocusSeeds: []FocusSeed{other}}, nil)
	require.NoError(t, err)
	require.NotNil(t, more.Context(other.Key()))
}

func TestTrainContinuationAccumulates(t *testing.T) {
	r := round("Eis Sturm", "Feuer Sturm", cards.WinnerAI, 5, 5)
	first, err := Train(context.Background(), repeat(r, 3), nil, Options{}, nil)
	require.NoError(t, err)

	raw, err := first.Encode()
	require.NoError(t, err)
	decoded, err := DecodeModel(raw, nil)
	require.NoError(t, err)
	require.Equal(t, first.Analysis.TotalRounds, decoded.Analysis.TotalRounds)
	require.Equal(t, first.Context(KeyFromRound(r)).Metadata.Priority, decoded.Context(KeyFromRound(r)).Metadata.Priority)

	second, err := Train(context.Background(), repeat(r, 2), decoded, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 5, second.Analysis.TotalRounds)
	require.Equal(t, 5, second.Analysis.AIWins)
	require.Equal(t, CardStats{Wins: 5, Total: 5}, *second.Context(KeyFromRound(r)).AICards["Feuer Sturm"])
}

func TestTrainCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, repeat(round("Eis Sturm", "Feuer Sturm", cards.WinnerAI, 5, 5), 10), nil, Options{}, nil)
	require.True(t, errors.Is(err, progress.ErrCanceled))
}

type failingAccelerator struct{}

func (failingAccelerator) Name() string { return "broken" }
func (failingAccelerator) CardBatch(context.Context, []float64, []float64) ([]float64, error) {
	return nil, errors.New("device lost")
}
func (failingAccelerator) ChessBatch(context.Context, []float64, []float64, []float64) ([]float64, error) {
	return nil, errors.New("device lost")
}

func TestTrainFallsBackFromAccelerator(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)
	rounds := repeat(round("Eis Sturm", "Feuer Sturm", cards.WinnerAI, 5, 5), 4)
	m, err := Train(context.Background(), rounds, nil, Options{Batcher: stats.NewBatcher(failingAccelerator{}, logger), Logger: logger}, nil)
	require.NoError(t, err)
	require.Equal(t, stats.Wilson(4, 4), m.Context(KeyFromRound(rounds[0])).Metadata.Best)
	require.Equal(t, 1, logs.FilterMessage("accelerator_fallback").Len())
}

func TestDecodeModelWarnsOnVersion(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m, err := DecodeModel([]byte(`{"version":3,"contexts":{"a|Klar|x vs y|0":{"aiCards":{"Feuer Funke":{"wins":1,"total":2}}}}}`), zap.New(core))
	require.NoError(t, err)
	require.Len(t, m.Contexts, 1)
	require.Equal(t, 1, logs.FilterMessage("rk_model_version_mismatch").Len())

	_, err = DecodeModel([]byte(`[]`), nil)
	require.Error(t, err)
}

func TestDecodeModelDropsNullCards(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	raw := []byte(`{"version":1,"contexts":{"Feuer Funke|Klar|A vs B|0":{"aiCards":{"Wasser Funke":null,"Erde Funke":{"wins":3,"total":4}}}}}`)
	m, err := DecodeModel(raw, zap.New(core))
	require.NoError(t, err)
	e := m.Contexts["Feuer Funke|Klar|A vs B|0"]
	require.NotNil(t, e)
	require.NotContains(t, e.AICards, "Wasser Funke")
	require.Equal(t, CardStats{Wins: 3, Total: 4}, *e.AICards["Erde Funke"])
	require.Equal(t, 1, logs.FilterMessage("rk_model_null_card").Len())

	trained, err := Train(context.Background(), nil, m, Options{}, nil)
	require.NoError(t, err)
	state := GameState{PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "A", AIHero: "B"}
	p, err := trained.Predict(state, hand(t, "Wasser Funke", "Erde Funke"), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, p.Choices, 2)
}

func hand(t *testing.T, labels ...string) []cards.Card {
	t.Helper()
	out := make([]cards.Card, len(labels))
	for i, l := range labels {
		c, err := cards.NewCard("h"+l, l)
		require.NoError(t, err)
		out[i] = c
	}
	return out
}

func TestPredictEmptyHand(t *testing.T) {
	var m *Model
	_, err := m.Predict(GameState{PlayerCard: "Feuer Funke"}, nil, nil)
	require.ErrorIs(t, err, ErrEmptyHand)
}

func TestPredictHeuristicWithoutData(t *testing.T) {
	state := GameState{PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Liora", PlayerTokens: 5, AITokens: 5}
	h := hand(t, "Feuer Funke", "Wasser Funke")
	var m *Model
	p, err := m.Predict(state, h, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	// water beats fire at equal rank
	require.Equal(t, 1, p.Index)
	require.Equal(t, SourceHeuristic, p.Choices[1].Source)
	require.Equal(t, StageNone, p.Stage)
}

func TestPredictStableIsDeterministic(t *testing.T) {
	var rounds []cards.RoundResult
	rounds = append(rounds, repeat(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 5, 5), 60)...)
	rounds = append(rounds, repeat(round("Feuer Funke", "Erde Funke", cards.WinnerPlayer, 5, 5), 60)...)
	m, err := Train(context.Background(), rounds, nil, Options{}, nil)
	require.NoError(t, err)
	state := GameState{PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Liora", PlayerTokens: 5, AITokens: 5}
	h := hand(t, "Erde Funke", "Wasser Funke")
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		p, err := m.Predict(state, h, rng)
		require.NoError(t, err)
		require.Equal(t, StageStable, p.Stage)
		require.Equal(t, "Wasser Funke", p.Card.Label())
		require.False(t, p.Explored)
	}
}

func TestPredictSoftmaxFavoursBetterCard(t *testing.T) {
	var rounds []cards.RoundResult
	rounds = append(rounds, repeat(round("Feuer Funke", "Wasser Funke", cards.WinnerAI, 5, 5), 8)...)
	rounds = append(rounds, repeat(round("Feuer Funke", "Erde Funke", cards.WinnerPlayer, 5, 5), 8)...)
	m, err := Train(context.Background(), rounds, nil, Options{}, nil)
	require.NoError(t, err)
	state := GameState{PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Liora", PlayerTokens: 5, AITokens: 5}
	h := hand(t, "Erde Funke", "Wasser Funke", "Licht Funke")
	rng := rand.New(rand.NewSource(11))
	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		p, err := m.Predict(state, h, rng)
		require.NoError(t, err)
		require.Equal(t, StageNone, p.Stage)
		require.InDelta(t, TempNone, p.Temperature, 1e-12)
		var sum float64
		for _, c := range p.Choices {
			sum += c.Probability
		}
		require.InDelta(t, 1.0, sum, 1e-9)
		counts[p.Card.Label()]++
	}
	require.Greater(t, counts["Wasser Funke"], counts["Erde Funke"])
	require.Greater(t, counts["Wasser Funke"], counts["Licht Funke"])
}

func TestPredictBaselinePrefersFocusCard(t *testing.T) {
	seed := FocusSeed{
		PlayerCard: "Feuer Funke", Weather: cards.WeatherClear, PlayerHero: "Brakka", AIHero: "Liora",
		Preferred: []string{"Wasser Glut", "Eis Glut"}, PriorWeight: 4, TargetWinRate: 0.5,
	}
	m, err := Train(context.Background(), nil, nil, Options{FocusSeeds: []FocusSeed{seed}}, nil)
	require.NoError(t, err)
	// drop one seeded card so it is scored from the baseline
	delete(m.Context(seed.Key()).AICards, "Eis Glut")
	e := m.Context(seed.Key())
	preferred := scoreCandidate(e, e.Metadata, "Eis Glut")
	plain := scoreCandidate(e, e.Metadata, "Licht Glut")
	require.Equal(t, SourceBaseline, preferred.Source)
	require.Greater(t, preferred.Lower, plain.Lower)
}

func TestSimulateRoundsProducesSamples(t *testing.T) {
	policy := bandit.New(bandit.WithSeed(5))
	var reports int
	res, err := SimulateRounds(context.Background(), SimOptions{Games: 20, Seed: 42}, Agents{Policy: policy}, func(float64, string) { reports++ }, nil)
	require.NoError(t, err)
	require.Equal(t, 20, res.Games)
	require.Equal(t, 20, res.AIWins+res.PlayerWins+res.Draws)
	require.NotEmpty(t, res.Rounds)
	require.Greater(t, reports, 0)
	for _, r := range res.Rounds {
		require.GreaterOrEqual(t, r.PlayerTokensAfter, 0)
		require.GreaterOrEqual(t, r.AITokensAfter, 0)
		require.LessOrEqual(t, r.Round, DefaultMaxRounds)
		_, _, err := cards.ParseLabel(r.AICard)
		require.NoError(t, err)
	}
	if res.Fusions > 0 {
		require.Positive(t, policy.Len())
	}

	m, err := Train(context.Background(), res.Rounds, nil, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, len(res.Rounds), m.Analysis.TotalRounds)

	again, err := SimulateRounds(context.Background(), SimOptions{Games: 5, Seed: 42}, Agents{Model: m}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 5, again.Games)
}

func TestSimulateRoundsDeterministicBySeed(t *testing.T) {
	a, err := SimulateRounds(context.Background(), SimOptions{Games: 3, Seed: 7}, Agents{}, nil, nil)
	require.NoError(t, err)
	b, err := SimulateRounds(context.Background(), SimOptions{Games: 3, Seed: 7}, Agents{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, a.Rounds, b.Rounds)
}

func TestSimulateRoundsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SimulateRounds(ctx, SimOptions{Games: 3, Seed: 1}, Agents{}, nil, nil)
	require.ErrorIs(t, err, progress.ErrCanceled)
}
