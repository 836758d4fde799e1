package rktrain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/progress"
	"github.com/park285/runenkrieg/internal/stats"
	"go.uber.org/zap"
)

const ModelVersion = 1

const (
	SolidSamples       = 50
	NeedsDataSamples   = 25
	LowEntropyBits     = 0.3
	ProvisionalLower   = 0.6
	resamplePreview    = 20
	seedPenaltyFloor   = 0.05
	maxWeaknessPenalty = 0.25
)

// Stage is how settled a context's best response is.
type Stage string

const (
	StageNone        Stage = "none"
	StageProvisional Stage = "provisional"
	StageStable      Stage = "stable"
)

// Priority orders contexts for further sampling. Higher values come first.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityMed
	PriorityHigh
	PriorityMax
)

var priorityNames = [...]string{"NORMAL", "MED", "HIGH", "MAX"}

func (p Priority) String() string {
	if p < PriorityNormal || p > PriorityMax {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	for i, n := range priorityNames {
		if n == string(b) {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", b)
}

type CardStats struct {
	Wins  int `json:"wins"`
	Total int `json:"total"`
}

// Candidate is one AI card's interval inside a context.
type Candidate struct {
	Card string `json:"card"`
	CardStats
	stats.Interval
}

type Metadata struct {
	BestResponse    string         `json:"bestResponse,omitempty"`
	Best            stats.Interval `json:"best"`
	BestSamples     int            `json:"bestSamples"`
	Observations    int            `json:"observations"`
	BaselineWinRate float64        `json:"baselineWinRate"`
	Entropy         float64        `json:"entropy"`
	LowEntropy      bool           `json:"lowEntropy"`
	Stage           Stage          `json:"stage"`
	Solid           bool           `json:"solid"`
	NeedsData       bool           `json:"needsData"`
	WeaknessPenalty float64        `json:"weaknessPenalty"`
	Priority        Priority       `json:"priority"`
	TargetSamples   int            `json:"targetSamples"`
	Preferred       []string       `json:"preferred,omitempty"`
	Candidates      []Candidate    `json:"candidates,omitempty"`
}

// Entry holds the AI card statistics of one context. Observed counts real
// rounds only; seeded priors are included in AICards but not in Observed.
type Entry struct {
	AICards  map[string]*CardStats `json:"aiCards"`
	Observed int                   `json:"observed"`
	Seeded   bool                  `json:"seeded,omitempty"`
	Metadata *Metadata             `json:"metadata,omitempty"`
}

func newEntry() *Entry { return &Entry{AICards: make(map[string]*CardStats)} }

func (e *Entry) add(card string, wins, total int) {
	s, ok := e.AICards[card]
	if !ok {
		s = &CardStats{}
		e.AICards[card] = s
	}
	s.Wins += wins
	s.Total += total
}

func (e *Entry) totals() (wins, total int) {
	for _, s := range e.AICards {
		wins += s.Wins
		total += s.Total
	}
	return wins, total
}

// ResamplePlan asks the simulator for more rounds in one context.
type ResamplePlan struct {
	Context       string   `json:"context"`
	Priority      Priority `json:"priority"`
	Observations  int      `json:"observations"`
	TargetSamples int      `json:"targetSamples"`
}

type Analysis struct {
	TotalRounds     int                `json:"totalRounds"`
	AIWins          int                `json:"aiWins"`
	PlayerWins      int                `json:"playerWins"`
	Draws           int                `json:"draws"`
	AIWinRate       float64            `json:"aiWinRate"`
	Contexts        int                `json:"contexts"`
	Solid           int                `json:"solid"`
	NeedsData       int                `json:"needsData"`
	LowEntropy      int                `json:"lowEntropy"`
	Stable          int                `json:"stable"`
	Provisional     int                `json:"provisional"`
	SeededContexts  int                `json:"seededContexts"`
	PriorityCounts  map[string]int     `json:"priorityCounts"`
	Resampling      []ResamplePlan     `json:"resampling"`
	ElementWinRates map[string]float64 `json:"elementWinRates,omitempty"`
}

type Model struct {
	Version     int               `json:"version"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Contexts    map[string]*Entry `json:"contexts"`
	Analysis    Analysis          `json:"analysis"`
}

func NewModel() *Model {
	return &Model{Version: ModelVersion, Contexts: make(map[string]*Entry)}
}

type Options struct {
	FocusSeeds []FocusSeed
	Batcher    *stats.Batcher
	Logger     *zap.Logger
}

// Train folds rounds into base (or a fresh model). The base model is not modified.
func Train(ctx context.Context, rounds []cards.RoundResult, base *Model, opts Options, report progress.Reporter) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := base.clone()
	continued := base != nil

	tr := progress.NewTracker(ctx, len(rounds), progress.Scale(report, 0, 0.7))
	tr.Phase("aggregating rounds")
	var aiWins, playerWins, draws int
	for i, r := range rounds {
		if err := tr.Step(i); err != nil {
			return nil, err
		}
		key := KeyFromRound(r).String()
		e, ok := m.Contexts[key]
		if !ok {
			e = newEntry()
			m.Contexts[key] = e
		}
		win := 0
		switch r.Winner {
		case cards.WinnerAI:
			win = 1
			aiWins++
		case cards.WinnerPlayer:
			playerWins++
		default:
			draws++
		}
		e.add(r.AICard, win, 1)
		e.Observed++
	}
	if err := tr.Step(len(rounds)); err != nil {
		return nil, err
	}

	preferred := make(map[string][]string)
	for _, seed := range opts.FocusSeeds {
		key := seed.Key().String()
		preferred[key] = append(preferred[key], seed.Preferred...)
		if continued {
			if _, known := base.Contexts[key]; known {
				continue
			}
		}
		if seed.PriorWeight <= 0 {
			continue
		}
		e, ok := m.Contexts[key]
		if !ok {
			e = newEntry()
			m.Contexts[key] = e
		}
		for _, card := range seed.Preferred {
			e.add(card, seed.priorWins(), seed.PriorWeight)
		}
		e.Seeded = true
	}

	if err := m.refresh(ctx, opts.Batcher, preferred, progress.Scale(report, 0.7, 1)); err != nil {
		return nil, err
	}

	prev := Analysis{}
	if continued {
		prev = base.Analysis
	}
	a := &m.Analysis
	a.TotalRounds = prev.TotalRounds + len(rounds)
	a.AIWins = prev.AIWins + aiWins
	a.PlayerWins = prev.PlayerWins + playerWins
	a.Draws = prev.Draws + draws
	if a.TotalRounds > 0 {
		a.AIWinRate = float64(a.AIWins) / float64(a.TotalRounds)
	}
	m.Version = ModelVersion
	m.GeneratedAt = time.Now().UTC()
	logger.Info("rk_train_done",
		zap.Int("rounds", len(rounds)),
		zap.Int("total_rounds", a.TotalRounds),
		zap.Int("contexts", a.Contexts),
		zap.Int("solid", a.Solid),
		zap.Int("needs_data", a.NeedsData),
		zap.Bool("continued", continued),
	)
	return m, nil
}

func (m *Model) clone() *Model {
	out := NewModel()
	if m == nil {
		return out
	}
	for k, e := range m.Contexts {
		c := newEntry()
		c.Observed, c.Seeded = e.Observed, e.Seeded
		for card, s := range e.AICards {
			cp := *s
			c.AICards[card] = &cp
		}
		out.Contexts[k] = c
	}
	return out
}

// refresh recomputes every context's metadata and the summary counters.
// All candidate intervals go through one batch.
func (m *Model) refresh(ctx context.Context, b *stats.Batcher, preferred map[string][]string, report progress.Reporter) error {
	if b == nil {
		b = stats.NewBatcher(nil, nil)
	}
	keys := make([]string, 0, len(m.Contexts))
	for k := range m.Contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type slot struct{ key, card string }
	var slots []slot
	var wins, totals []float64
	for _, k := range keys {
		e := m.Contexts[k]
		labels := make([]string, 0, len(e.AICards))
		for card := range e.AICards {
			labels = append(labels, card)
		}
		sort.Strings(labels)
		for _, card := range labels {
			s := e.AICards[card]
			slots = append(slots, slot{k, card})
			wins = append(wins, float64(s.Wins))
			totals = append(totals, float64(s.Total))
		}
	}

	tr := progress.NewTracker(ctx, len(keys), report)
	tr.Phase("computing confidence")
	if err := tr.Check(); err != nil {
		return err
	}
	intervals, err := b.Cards(ctx, wins, totals)
	if err != nil {
		return err
	}
	byKey := make(map[string][]Candidate, len(keys))
	for i, s := range slots {
		st := m.Contexts[s.key].AICards[s.card]
		byKey[s.key] = append(byKey[s.key], Candidate{Card: s.card, CardStats: *st, Interval: intervals[i]})
	}

	a := Analysis{PriorityCounts: make(map[string]int)}
	var plans []ResamplePlan
	for i, k := range keys {
		if err := tr.Step(i); err != nil {
			return err
		}
		key, _ := ParseContextKey(k)
		e := m.Contexts[k]
		meta := buildMetadata(key, e, byKey[k], preferred[k])
		e.Metadata = meta

		a.Contexts++
		if meta.Solid {
			a.Solid++
		}
		if meta.NeedsData {
			a.NeedsData++
		}
		if meta.LowEntropy {
			a.LowEntropy++
		}
		switch meta.Stage {
		case StageStable:
			a.Stable++
		case StageProvisional:
			a.Provisional++
		}
		if e.Seeded {
			a.SeededContexts++
		}
		a.PriorityCounts[meta.Priority.String()]++
		if meta.TargetSamples > e.Observed {
			plans = append(plans, ResamplePlan{
				Context: k, Priority: meta.Priority, Observations: e.Observed, TargetSamples: meta.TargetSamples,
			})
		}
	}
	if err := tr.Step(len(keys)); err != nil {
		return err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Priority != plans[j].Priority {
			return plans[i].Priority > plans[j].Priority
		}
		return plans[i].Observations < plans[j].Observations
	})
	if len(plans) > resamplePreview {
		plans = plans[:resamplePreview]
	}
	a.Resampling = plans
	a.ElementWinRates = m.elementWinRates()
	m.Analysis = a
	return nil
}

func buildMetadata(key ContextKey, e *Entry, cands []Candidate, preferred []string) *Metadata {
	meta := &Metadata{Stage: StageNone, Preferred: preferred, Candidates: cands}
	wins, total := e.totals()
	meta.Observations = total
	meta.BaselineWinRate = 0.5
	if total > 0 {
		meta.BaselineWinRate = float64(wins) / float64(total)
	}

	shares := make([]float64, len(cands))
	for i, c := range cands {
		shares[i] = float64(c.Total)
	}
	meta.Entropy = stats.Entropy(shares)
	meta.LowEntropy = len(cands) > 0 && meta.Entropy < LowEntropyBits

	best := -1
	for i, c := range cands {
		if best < 0 || c.Lower > cands[best].Lower ||
			(c.Lower == cands[best].Lower && c.Evidence > cands[best].Evidence) {
			best = i
		}
	}
	if best >= 0 {
		meta.BestResponse = cands[best].Card
		meta.Best = cands[best].Interval
		meta.BestSamples = cands[best].Total
	} else {
		meta.Best = stats.Wilson(0, 0)
	}

	meta.Solid = meta.BestSamples >= SolidSamples
	meta.NeedsData = meta.BestSamples < NeedsDataSamples
	switch {
	case meta.BestSamples >= SolidSamples:
		meta.Stage = StageStable
	case meta.BestSamples >= NeedsDataSamples && meta.Best.Lower >= ProvisionalLower:
		meta.Stage = StageProvisional
	}

	meta.WeaknessPenalty = stats.Clamp((0.5-meta.BaselineWinRate)*0.5, 0, maxWeaknessPenalty)
	if e.Seeded {
		meta.WeaknessPenalty = max(meta.WeaknessPenalty, seedPenaltyFloor)
	}
	meta.Priority = resamplePriority(key, e.Observed, meta)
	meta.TargetSamples = targetWave(e.Observed, meta)
	return meta
}

// resamplePriority ranks contexts: no real observations first, then thin data
// with a weak lower bound or a large player lead the AI cannot answer.
func resamplePriority(key ContextKey, observed int, meta *Metadata) Priority {
	switch {
	case observed == 0:
		return PriorityMax
	case observed < NeedsDataSamples && meta.Best.Lower < 0.4,
		key.TokenDelta >= 3 && meta.Best.WinRate < 0.45:
		return PriorityHigh
	case observed < SolidSamples && meta.Best.Lower >= 0.4 && meta.Best.Lower <= 0.55:
		return PriorityMed
	default:
		return PriorityNormal
	}
}

// targetWave is the next sample goal: 25, 50, 100, then +50 while the
// best response is still weak or wide.
func targetWave(observed int, meta *Metadata) int {
	switch {
	case observed < 25:
		return 25
	case observed < 50:
		return 50
	case observed < 100:
		return 100
	case meta.Best.WinRate < 0.45 || meta.Best.Width > 0.2:
		return observed + 50
	default:
		return observed
	}
}

func (m *Model) elementWinRates() map[string]float64 {
	wins := make(map[string]int)
	totals := make(map[string]int)
	for _, e := range m.Contexts {
		for card, s := range e.AICards {
			el, _, err := cards.ParseLabel(card)
			if err != nil {
				continue
			}
			wins[string(el)] += s.Wins
			totals[string(el)] += s.Total
		}
	}
	if len(totals) == 0 {
		return nil
	}
	out := make(map[string]float64, len(totals))
	for el, t := range totals {
		if t > 0 {
			out[el] = float64(wins[el]) / float64(t)
		}
	}
	return out
}

// Context returns the entry for key, or nil.
func (m *Model) Context(key ContextKey) *Entry {
	if m == nil {
		return nil
	}
	return m.Contexts[key.String()]
}

func (m *Model) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeModel parses a serialized model. An unknown version is accepted with a warning.
func DecodeModel(raw []byte, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := NewModel()
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode card model: %w", err)
	}
	if m.Version != ModelVersion {
		logger.Warn("rk_model_version_mismatch", zap.Int("got", m.Version), zap.Int("want", ModelVersion))
	}
	if m.Contexts == nil {
		m.Contexts = make(map[string]*Entry)
	}
	for k, e := range m.Contexts {
		if e == nil {
			delete(m.Contexts, k)
			continue
		}
		if e.AICards == nil {
			e.AICards = make(map[string]*CardStats)
		}
		for card, st := range e.AICards {
			if st == nil {
				logger.Warn("rk_model_null_card", zap.String("context", k), zap.String("card", card))
				delete(e.AICards, card)
			}
		}
	}
	return m, nil
}
