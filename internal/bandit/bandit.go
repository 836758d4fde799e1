// Package bandit is the epsilon-greedy fuse/skip policy used when two fusable
// cards are in hand. State is shared across games and guarded by a mutex.
package bandit

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/runenkrieg/internal/stats"
	"go.uber.org/zap"
)

type Action string

const (
	ActionFuse Action = "fuse"
	ActionSkip Action = "skip"
)

const (
	DefaultEpsilon  = 0.12
	skipBaseline    = 0.05
	tokenWeight     = 0.6
	maxDelta        = 5
	SnapshotVersion = 1
)

// Context describes one fuse-or-skip decision point.
type Context struct {
	Actor          string  `json:"actor"`
	Hero           string  `json:"hero"`
	OpponentHero   string  `json:"opponentHero"`
	Weather        string  `json:"weather"`
	FusedSignature string  `json:"fusedSignature"`
	TokenDelta     int     `json:"tokenDelta"`
	ProjectedGain  float64 `json:"projectedGain"`
}

type Decision struct {
	Context  Context `json:"context"`
	Action   Action  `json:"action"`
	Explored bool    `json:"explored"`
}

type Result int

const (
	Loss Result = -1
	Draw Result = 0
	Win  Result = 1
)

// Outcome is what the actor observed after the round the decision was made in.
type Outcome struct {
	Result      Result
	TokenChange int
}

// Reward maps an outcome to win(+1/-1/+0.2 draw) + 0.6*tanh(tokenChange/5).
func Reward(o Outcome) float64 {
	var win float64
	switch o.Result {
	case Win:
		win = 1
	case Loss:
		win = -1
	default:
		win = 0.2
	}
	return win + tokenWeight*math.Tanh(float64(o.TokenChange)/5)
}

type Arm struct {
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

type Policy struct {
	mu      sync.Mutex
	arms    map[string]*Arm
	rng     *rand.Rand
	epsilon float64
	logger  *zap.Logger
}

type Option func(*Policy)

func WithEpsilon(e float64) Option {
	return func(p *Policy) { p.epsilon = stats.Clamp(e, 0, 1) }
}

func WithSeed(seed int64) Option {
	return func(p *Policy) { p.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{
		arms:    make(map[string]*Arm),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		epsilon: DefaultEpsilon,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ArmKey joins actor, hero matchup, weather, fused signature, clamped delta and action.
func ArmKey(c Context, a Action) string {
	delta := stats.Clamp(c.TokenDelta, -maxDelta, maxDelta)
	return strings.Join([]string{
		c.Actor,
		c.Hero + " vs " + c.OpponentHero,
		c.Weather,
		c.FusedSignature,
		strconv.Itoa(delta),
		string(a),
	}, "|")
}

// SelectAction explores with probability epsilon (fusing with probability
// sigmoid(projectedGain)), otherwise picks the arm with the higher value.
func (p *Policy) SelectAction(c Context) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng.Float64() < p.epsilon {
		a := ActionSkip
		if p.rng.Float64() < stats.Sigmoid(c.ProjectedGain) {
			a = ActionFuse
		}
		return Decision{Context: c, Action: a, Explored: true}
	}
	return Decision{Context: c, Action: p.exploit(c)}
}

func (p *Policy) exploit(c Context) Action {
	fuse := c.ProjectedGain
	if arm, ok := p.arms[ArmKey(c, ActionFuse)]; ok && arm.Count > 0 {
		fuse = arm.Mean
	}
	skip := skipBaseline
	if arm, ok := p.arms[ArmKey(c, ActionSkip)]; ok && arm.Count > 0 {
		skip = arm.Mean
	}
	if fuse > skip {
		return ActionFuse
	}
	return ActionSkip
}

// Greedy returns the action exploitation would choose, without consuming randomness.
func (p *Policy) Greedy(c Context) Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exploit(c)
}

// Learn folds the outcome of d into its arm and returns the reward used.
func (p *Policy) Learn(d Decision, o Outcome) float64 {
	r := Reward(o)
	p.LearnReward(d, r)
	return r
}

// LearnReward applies mean += (reward-mean)/count to the decision's arm.
func (p *Policy) LearnReward(d Decision, reward float64) {
	key := ArmKey(d.Context, d.Action)
	p.mu.Lock()
	arm, ok := p.arms[key]
	if !ok {
		arm = &Arm{}
		p.arms[key] = arm
	}
	arm.Count++
	arm.Mean += (reward - arm.Mean) / float64(arm.Count)
	p.mu.Unlock()
}

func (p *Policy) Arm(c Context, a Action) (Arm, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	arm, ok := p.arms[ArmKey(c, a)]
	if !ok {
		return Arm{}, false
	}
	return *arm, true
}

func (p *Policy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.arms)
}

// Snapshot is the persisted form of a policy.
type Snapshot struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Epsilon   float64        `json:"epsilon"`
	Arms      map[string]Arm `json:"arms"`
}

func (p *Policy) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{Version: SnapshotVersion, UpdatedAt: time.Now().UTC(), Epsilon: p.epsilon, Arms: make(map[string]Arm, len(p.arms))}
	for k, a := range p.arms {
		s.Arms[k] = *a
	}
	return s
}

// Restore replaces the arm table. Unknown versions are loaded with a warning.
func (p *Policy) Restore(s Snapshot) {
	if s.Version != SnapshotVersion {
		p.logger.Warn("bandit_snapshot_version_mismatch",
			zap.Int("got", s.Version),
			zap.Int("want", SnapshotVersion),
		)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arms = make(map[string]*Arm, len(s.Arms))
	for k, a := range s.Arms {
		p.arms[k] = &a
	}
}

func (p *Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

func (p *Policy) UnmarshalJSON(b []byte) error {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode bandit snapshot: %w", err)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.Epsilon > 0 {
		p.epsilon = s.Epsilon
	} else if p.epsilon == 0 {
		p.epsilon = DefaultEpsilon
	}
	p.Restore(s)
	return nil
}
