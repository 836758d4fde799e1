package rktrain

import (
	"math"

	"github.com/park285/runenkrieg/internal/cards"
)

// FocusSeed is a prior belief about a known weak spot: each preferred AI card
// starts with PriorWeight trials at TargetWinRate.
type FocusSeed struct {
	PlayerCard    string        `json:"playerCard" yaml:"player_card"`
	Weather       cards.Weather `json:"weather" yaml:"weather"`
	PlayerHero    string        `json:"playerHero" yaml:"player_hero"`
	AIHero        string        `json:"aiHero" yaml:"ai_hero"`
	TokenDelta    int           `json:"tokenDelta" yaml:"token_delta"`
	Preferred     []string      `json:"preferred" yaml:"preferred"`
	PriorWeight   int           `json:"priorWeight" yaml:"prior_weight"`
	TargetWinRate float64       `json:"targetWinRate" yaml:"target_win_rate"`
}

func (f FocusSeed) Key() ContextKey {
	return NewContextKey(f.PlayerCard, f.Weather, f.PlayerHero, f.AIHero, f.TokenDelta)
}

func (f FocusSeed) priorWins() int {
	return int(math.Round(float64(f.PriorWeight) * f.TargetWinRate))
}

// DefaultFocusSeeds are weak spots seen in play: strong player cards under
// weather that favours them, and large player leads.
var DefaultFocusSeeds = []FocusSeed{
	{
		PlayerCard: "Wasser Flamme", Weather: cards.WeatherRain, PlayerHero: "Nerida", AIHero: "Brakka",
		Preferred: []string{"Blitz Sturm", "Blitz Flamme"}, PriorWeight: 6, TargetWinRate: 0.6,
	},
	{
		PlayerCard: "Feuer Inferno", Weather: cards.WeatherHeat, PlayerHero: "Thorgar", AIHero: "Nerida",
		TokenDelta: 3, Preferred: []string{"Wasser Inferno", "Wasser Orkan"}, PriorWeight: 8, TargetWinRate: 0.55,
	},
	{
		PlayerCard: "Schatten Zorn", Weather: cards.WeatherFog, PlayerHero: "Vex", AIHero: "Liora",
		Preferred: []string{"Licht Zorn", "Licht Beben"}, PriorWeight: 6, TargetWinRate: 0.6,
	},
	{
		PlayerCard: "Luft Orkan", Weather: cards.WeatherStorm, PlayerHero: "Sylvara", AIHero: "Thorgar",
		TokenDelta: 5, Preferred: []string{"Eis Orkan", "Blitz Orkan"}, PriorWeight: 5, TargetWinRate: 0.5,
	},
}
