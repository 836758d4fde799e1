package rktrain

import (
	"context"
	"math/rand"
	"time"

	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/progress"
	"go.uber.org/zap"
)

const (
	DefaultGames       = 200
	DefaultMaxRounds   = 12
	DefaultStartTokens = 5
	DefaultHandSize    = 5
	DefaultDeckSize    = 24

	gainScale = 5.0
)

type SimOptions struct {
	Games       int   `json:"games" yaml:"games"`
	MaxRounds   int   `json:"maxRounds" yaml:"max_rounds"`
	StartTokens int   `json:"startTokens" yaml:"start_tokens"`
	HandSize    int   `json:"handSize" yaml:"hand_size"`
	DeckSize    int   `json:"deckSize" yaml:"deck_size"`
	Seed        int64 `json:"seed" yaml:"seed"`
}

func (o SimOptions) withDefaults() SimOptions {
	if o.Games <= 0 {
		o.Games = DefaultGames
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.StartTokens <= 0 {
		o.StartTokens = DefaultStartTokens
	}
	if o.HandSize <= 0 {
		o.HandSize = DefaultHandSize
	}
	if o.DeckSize < o.HandSize {
		o.DeckSize = max(DefaultDeckSize, o.HandSize)
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

type SimulationResult struct {
	Rounds     []cards.RoundResult `json:"rounds"`
	Games      int                 `json:"games"`
	AIWins     int                 `json:"aiWins"`
	PlayerWins int                 `json:"playerWins"`
	Draws      int                 `json:"draws"`
	Fusions    int                 `json:"fusions"`
}

// Agents are the optional learned components a simulation plays with. A nil
// model plays the evaluator heuristic; a nil policy never fuses.
type Agents struct {
	Model  *Model
	Policy *bandit.Policy
}

// SimulateRounds plays whole games between a random player and the AI and
// returns every round as a training sample. The fusion policy learns from
// each round it decided on.
func SimulateRounds(ctx context.Context, opts SimOptions, agents Agents, report progress.Reporter, logger *zap.Logger) (SimulationResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))

	res := SimulationResult{}
	tr := progress.NewTracker(ctx, opts.Games, report)
	tr.Phase("simulating rounds")
	for i := 0; i < opts.Games; i++ {
		if err := tr.Step(i); err != nil {
			return SimulationResult{}, err
		}
		g := newSimGame(opts, rng, agents)
		g.play()
		res.Rounds = append(res.Rounds, g.rounds...)
		res.Fusions += g.fusions
		res.Games++
		switch {
		case g.ai.tokens > g.player.tokens:
			res.AIWins++
		case g.player.tokens > g.ai.tokens:
			res.PlayerWins++
		default:
			res.Draws++
		}
	}
	if err := tr.Step(opts.Games); err != nil {
		return SimulationResult{}, err
	}
	logger.Info("rk_simulation_done",
		zap.Int("games", res.Games),
		zap.Int("rounds", len(res.Rounds)),
		zap.Int("ai_wins", res.AIWins),
		zap.Int("player_wins", res.PlayerWins),
		zap.Int("fusions", res.Fusions),
	)
	return res, nil
}

type simSide struct {
	side   cards.Side
	hero   cards.Hero
	deck   *cards.Deck
	hand   []cards.Card
	tokens int
}

type simGame struct {
	opts    SimOptions
	rng     *rand.Rand
	agents  Agents
	player  *simSide
	ai      *simSide
	history []cards.Play
	rounds  []cards.RoundResult
	fusions int
}

func newSimGame(opts SimOptions, rng *rand.Rand, agents Agents) *simGame {
	mk := func(side cards.Side, prefix string) *simSide {
		d := cards.NewDeck(rng, prefix, opts.DeckSize)
		return &simSide{
			side:   side,
			hero:   cards.Heroes[rng.Intn(len(cards.Heroes))],
			deck:   d,
			hand:   d.Draw(opts.HandSize),
			tokens: opts.StartTokens,
		}
	}
	return &simGame{
		opts:   opts,
		rng:    rng,
		agents: agents,
		player: mk(cards.SidePlayer, "p"),
		ai:     mk(cards.SideAI, "a"),
	}
}

func (g *simGame) play() {
	for round := 1; round <= g.opts.MaxRounds; round++ {
		if g.player.tokens <= 0 || g.ai.tokens <= 0 || len(g.player.hand) == 0 || len(g.ai.hand) == 0 {
			return
		}
		weather := cards.Weathers[g.rng.Intn(len(cards.Weathers))]

		// the player commits first and does not see the AI's card
		pDecision := g.considerFusion(g.player, g.ai, weather, cards.Card{})
		pi := g.rng.Intn(len(g.player.hand))
		pCard := g.player.hand[pi]

		aDecision := g.considerFusion(g.ai, g.player, weather, pCard)
		state := GameState{
			PlayerCard: pCard.Label(), Weather: weather,
			PlayerHero: g.player.hero.Name, AIHero: g.ai.hero.Name,
			PlayerTokens: g.player.tokens, AITokens: g.ai.tokens, Round: round,
		}
		ai := HeuristicChoice(state, g.ai.hand)
		if g.agents.Model != nil {
			if pred, err := g.agents.Model.Predict(state, g.ai.hand, g.rng); err == nil {
				ai = pred.Index
			}
		}
		aCard := g.ai.hand[ai]

		out := cards.ResolveRound(cards.RoundInput{
			Round:   round,
			Weather: weather,
			Player:  cards.Seat{Card: pCard, Hero: g.player.hero, Tokens: g.player.tokens, Hand: g.player.hand},
			AI:      cards.Seat{Card: aCard, Hero: g.ai.hero, Tokens: g.ai.tokens, Hand: g.ai.hand},
			History: g.history,
		})
		r := out.Result
		g.rounds = append(g.rounds, r)

		g.learn(pDecision, cards.WinnerPlayer, r.Winner, r.PlayerTokensAfter-r.PlayerTokensBefore)
		g.learn(aDecision, cards.WinnerAI, r.Winner, r.AITokensAfter-r.AITokensBefore)

		g.player.tokens, g.ai.tokens = r.PlayerTokensAfter, r.AITokensAfter
		g.history = append(g.history, cards.Play{Side: cards.SidePlayer, Card: pCard}, cards.Play{Side: cards.SideAI, Card: aCard})
		g.player.discard(pi)
		g.ai.discard(ai)
	}
}

func (s *simSide) discard(i int) {
	s.hand = append(s.hand[:i:i], s.hand[i+1:]...)
	s.hand = append(s.hand, s.deck.Draw(1)...)
}

// considerFusion asks the policy whether to fuse the first fusable pair in
// hand and applies the fusion. It returns nil when no decision was taken.
func (g *simGame) considerFusion(own, opp *simSide, weather cards.Weather, oppCard cards.Card) *bandit.Decision {
	if g.agents.Policy == nil {
		return nil
	}
	pairs := cards.FusionPartners(own.hand)
	if len(pairs) == 0 {
		return nil
	}
	i, j := pairs[0][0], pairs[0][1]
	a, b := own.hand[i], own.hand[j]
	fused, err := cards.Fuse(a, b)
	if err != nil {
		return nil
	}
	score := func(c cards.Card) float64 {
		return cards.Score(cards.ScoreInput{
			Card: c, Opponent: oppCard, Hero: own.hero,
			OwnTokens: own.tokens, OpponentTokens: opp.tokens,
			Weather: weather, Hand: own.hand, History: g.history, Side: own.side,
		}).Total()
	}
	gain := (score(fused) - max(score(a), score(b))) / gainScale
	d := g.agents.Policy.SelectAction(bandit.Context{
		Actor:          string(own.side),
		Hero:           own.hero.Name,
		OpponentHero:   opp.hero.Name,
		Weather:        string(weather),
		FusedSignature: cards.FusedSignature(a, b),
		TokenDelta:     own.tokens - opp.tokens,
		ProjectedGain:  gain,
	})
	if d.Action == bandit.ActionFuse {
		hand := make([]cards.Card, 0, len(own.hand)-1)
		for k, c := range own.hand {
			if k != i && k != j {
				hand = append(hand, c)
			}
		}
		own.hand = append(hand, fused)
		g.fusions++
	}
	return &d
}

func (g *simGame) learn(d *bandit.Decision, me, winner cards.Winner, tokenChange int) {
	if d == nil {
		return
	}
	res := bandit.Draw
	switch winner {
	case me:
		res = bandit.Win
	case cards.WinnerDraw:
	default:
		res = bandit.Loss
	}
	g.agents.Policy.Learn(*d, bandit.Outcome{Result: res, TokenChange: tokenChange})
}
