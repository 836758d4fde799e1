package cards

import "math"

type Side string

const (
	SidePlayer Side = "player"
	SideAI     Side = "ai"
)

func (s Side) Other() Side {
	if s == SideAI {
		return SidePlayer
	}
	return SideAI
}

// Play is one card played by one side in an earlier round.
type Play struct {
	Side Side `json:"side"`
	Card Card `json:"card"`
}

// ScoreInput is everything a card's strength depends on in one duel.
// Hand is the owner's hand snapshot and may include Card itself.
type ScoreInput struct {
	Card           Card
	Opponent       Card
	Hero           Hero
	OwnTokens      int
	OpponentTokens int
	Weather        Weather
	Hand           []Card
	History        []Play
	Side           Side
}

type Breakdown struct {
	Base        float64 `json:"base"`
	WeatherRisk float64 `json:"weatherRisk"`
	Element     float64 `json:"element"`
	Hero        float64 `json:"hero"`
	Morale      float64 `json:"morale"`
	Synergy     float64 `json:"synergy"`
}

func (b Breakdown) Total() float64 {
	return b.Base + b.WeatherRisk + b.Element + b.Hero + b.Morale + b.Synergy
}

const (
	overloadHit       = 2.0
	overloadMiss      = -1.0
	blessingBehind    = 1.5
	blessingAhead     = -0.5
	artifactBonus     = 0.5
	summonStep        = 0.25
	fusionPerPartner  = 0.75
	chainBonus        = 1.5
	maxMorale         = 4
	resonanceBase     = 2.0
	resonancePerStack = 0.5
)

// Score evaluates a card against the opponent's card. It is a pure function.
func Score(in ScoreInput) Breakdown {
	return Breakdown{
		Base:        float64(in.Card.Rank),
		WeatherRisk: weatherAndRisk(in),
		Element:     ElementAdvantage(in.Card.Element, in.Opponent.Element),
		Hero:        in.Hero.ElementBonus(in.Card.Element),
		Morale:      morale(in.OwnTokens - in.OpponentTokens),
		Synergy:     synergy(in),
	}
}

func morale(lead int) float64 {
	if lead <= 0 {
		return 0
	}
	return math.Min(maxMorale, math.Floor(float64(lead)/2))
}

func weatherAndRisk(in ScoreInput) float64 {
	c := in.Card
	w := WeatherModifier(in.Weather, c.Element)
	if c.Has(Wetterbindung) && w != 0 {
		w += math.Copysign(1, w)
	}
	adj := w
	if c.Has(Ueberladung) {
		if in.OpponentTokens-in.OwnTokens >= 2 {
			adj += overloadHit
		} else {
			adj += overloadMiss
		}
	}
	if c.IsBlessingOrCurse() {
		if in.OwnTokens < in.OpponentTokens {
			adj += blessingBehind
		} else {
			adj += blessingAhead
		}
	}
	switch c.Type {
	case TypeArtifact:
		adj += artifactBonus
	case TypeSummon:
		if c.Lifespan != nil {
			adj += float64(max(0, 4-*c.Lifespan)) * summonStep
		}
	}
	return adj
}

func synergy(in ScoreInput) float64 {
	c := in.Card
	var played, own []Card
	for _, p := range in.History {
		played = append(played, p.Card)
		if p.Side == in.Side {
			own = append(own, p.Card)
		}
	}
	var others []Card
	for _, h := range in.Hand {
		if h.ID != c.ID || c.ID == "" {
			others = append(others, h)
		}
	}

	var bonus float64
	if c.Has(Elementarresonanz) {
		// both sides' plays feed the resonance
		stacks := 1
		for _, x := range append(played, others...) {
			if x.Element == c.Element {
				stacks++
			}
		}
		if stacks >= 2 {
			bonus += resonanceBase + resonancePerStack*float64(stacks-2)
		}
	}

	for partner, mod := range synergyPairs[c.Element] {
		if containsElement(played, partner) || containsElement(others, partner) {
			bonus += mod
		}
	}

	if c.Has(Fusion) {
		n := 0
		for _, h := range others {
			if h.Has(Fusion) {
				n++
			}
		}
		bonus += fusionPerPartner * float64(n)
	}

	// chain: this side's previous play was also chain-tagged
	if c.Has(Ketteneffekte) && len(own) > 0 && own[len(own)-1].Has(Ketteneffekte) {
		bonus += chainBonus
	}
	return bonus
}

func containsElement(cs []Card, e Element) bool {
	for _, c := range cs {
		if c.Element == e {
			return true
		}
	}
	return false
}
