package rktrain

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/stats"
)

var ErrEmptyHand = errors.New("rktrain: no cards to choose from")

const (
	TempNone          = 0.35
	TempProvisional   = 0.15
	StableExploration = 0.05

	unseenPseudoCount    = 4
	preferredPseudoCount = 10
	preferredBonus       = 0.05
)

type Source string

const (
	SourceContext   Source = "context"
	SourceBaseline  Source = "baseline"
	SourceHeuristic Source = "heuristic"
)

type Choice struct {
	Card        string  `json:"card"`
	Lower       float64 `json:"lower"`
	Probability float64 `json:"probability"`
	Source      Source  `json:"source"`
}

type Prediction struct {
	Index       int        `json:"index"`
	Card        cards.Card `json:"card"`
	Context     string     `json:"context"`
	Stage       Stage      `json:"stage"`
	Temperature float64    `json:"temperature"`
	Explored    bool       `json:"explored"`
	Choices     []Choice   `json:"choices"`
}

// Predict picks the AI's answer to state.PlayerCard from hand. Without data
// for the context it falls back to the card evaluator. A nil model is valid.
func (m *Model) Predict(state GameState, hand []cards.Card, rng *rand.Rand) (Prediction, error) {
	if len(hand) == 0 {
		return Prediction{}, ErrEmptyHand
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	key := state.Key()
	pred := Prediction{Context: key.String(), Stage: StageNone}

	entry := m.Context(key)
	if entry == nil || entry.empty() {
		return heuristicPrediction(state, hand, pred), nil
	}
	meta := entry.Metadata
	if meta == nil {
		meta = buildMetadata(key, entry, cpuCandidates(entry), nil)
	}
	pred.Stage = meta.Stage

	pred.Choices = make([]Choice, len(hand))
	for i, c := range hand {
		pred.Choices[i] = scoreCandidate(entry, meta, c.Label())
	}

	switch meta.Stage {
	case StageStable:
		best := argmaxLower(pred.Choices)
		pred.Index = best
		explore := meta.LowEntropy && len(hand) > 1
		for i := range pred.Choices {
			switch {
			case !explore && i == best:
				pred.Choices[i].Probability = 1
			case !explore:
				pred.Choices[i].Probability = 0
			case i == best:
				pred.Choices[i].Probability = 1 - StableExploration
			default:
				pred.Choices[i].Probability = StableExploration / float64(len(hand)-1)
			}
		}
		if explore && rng.Float64() < StableExploration {
			other := rng.Intn(len(hand) - 1)
			if other >= best {
				other++
			}
			pred.Index, pred.Explored = other, true
		}
	default:
		t := TempNone
		if meta.Stage == StageProvisional {
			t = TempProvisional
		}
		pred.Temperature = t
		softmax(pred.Choices, t)
		pred.Index = sample(pred.Choices, rng)
		pred.Explored = pred.Index != argmaxLower(pred.Choices)
	}
	pred.Card = hand[pred.Index]
	return pred, nil
}

func (e *Entry) empty() bool {
	_, total := e.totals()
	return total == 0
}

// scoreCandidate uses the card's own interval when it has samples. Otherwise
// it estimates from the context baseline: penalized for weak contexts, and
// narrowed upward for known preferred answers.
func scoreCandidate(e *Entry, meta *Metadata, label string) Choice {
	if s, ok := e.AICards[label]; ok && s.Total > 0 {
		return Choice{Card: label, Lower: stats.Wilson(float64(s.Wins), float64(s.Total)).Lower, Source: SourceContext}
	}
	est, n := meta.BaselineWinRate-meta.WeaknessPenalty, float64(unseenPseudoCount)
	if slices.Contains(meta.Preferred, label) {
		est, n = meta.BaselineWinRate+preferredBonus, preferredPseudoCount
	}
	est = stats.Clamp(est, 0, 1)
	return Choice{Card: label, Lower: stats.Wilson(est*n, n).Lower, Source: SourceBaseline}
}

func cpuCandidates(e *Entry) []Candidate {
	out := make([]Candidate, 0, len(e.AICards))
	for card, s := range e.AICards {
		out = append(out, Candidate{Card: card, CardStats: *s, Interval: stats.Wilson(float64(s.Wins), float64(s.Total))})
	}
	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.Card, b.Card) })
	return out
}

func argmaxLower(cs []Choice) int {
	best := 0
	for i := 1; i < len(cs); i++ {
		if cs[i].Lower > cs[best].Lower {
			best = i
		}
	}
	return best
}

func softmax(cs []Choice, t float64) {
	top := cs[argmaxLower(cs)].Lower
	var sum float64
	for i := range cs {
		cs[i].Probability = math.Exp((cs[i].Lower - top) / t)
		sum += cs[i].Probability
	}
	for i := range cs {
		cs[i].Probability /= sum
	}
}

func sample(cs []Choice, rng *rand.Rand) int {
	u := rng.Float64()
	for i, c := range cs {
		u -= c.Probability
		if u < 0 {
			return i
		}
	}
	return len(cs) - 1
}

func heuristicPrediction(state GameState, hand []cards.Card, pred Prediction) Prediction {
	pred.Index = HeuristicChoice(state, hand)
	pred.Card = hand[pred.Index]
	pred.Choices = make([]Choice, len(hand))
	for i, c := range hand {
		pred.Choices[i] = Choice{Card: c.Label(), Source: SourceHeuristic}
	}
	pred.Choices[pred.Index].Probability = 1
	return pred
}

// HeuristicChoice returns the hand index with the best evaluator score
// against the player's card. An unparsable player card scores as neutral.
func HeuristicChoice(state GameState, hand []cards.Card) int {
	opp, _ := cards.NewCard("player", state.PlayerCard)
	hero := cards.HeroByName(state.AIHero)
	best, bestScore := 0, math.Inf(-1)
	for i, c := range hand {
		s := cards.Score(cards.ScoreInput{
			Card: c, Opponent: opp, Hero: hero,
			OwnTokens: state.AITokens, OpponentTokens: state.PlayerTokens,
			Weather: state.Weather, Hand: hand, Side: cards.SideAI,
		}).Total()
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}
