// Package rktrain learns which AI card answers a player's card best, per
// (player card, weather, hero matchup, token delta) context.
package rktrain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/runenkrieg/internal/cards"
	"github.com/park285/runenkrieg/internal/stats"
)

// MaxTokenDelta bounds the delta component of a context key.
const MaxTokenDelta = 5

const keySep = "|"

type ContextKey struct {
	PlayerCard  string
	Weather     cards.Weather
	HeroMatchup string
	TokenDelta  int
}

// NewContextKey clamps the delta so that every larger lead shares one key.
func NewContextKey(playerCard string, weather cards.Weather, playerHero, aiHero string, tokenDelta int) ContextKey {
	return ContextKey{
		PlayerCard:  playerCard,
		Weather:     weather,
		HeroMatchup: cards.Matchup(playerHero, aiHero),
		TokenDelta:  stats.Clamp(tokenDelta, -MaxTokenDelta, MaxTokenDelta),
	}
}

func KeyFromRound(r cards.RoundResult) ContextKey {
	return NewContextKey(r.PlayerCard, r.Weather, r.PlayerHero, r.AIHero, r.TokenDelta())
}

func (k ContextKey) String() string {
	return strings.Join([]string{k.PlayerCard, string(k.Weather), k.HeroMatchup, strconv.Itoa(k.TokenDelta)}, keySep)
}

func ParseContextKey(s string) (ContextKey, error) {
	parts := strings.Split(s, keySep)
	if len(parts) != 4 {
		return ContextKey{}, fmt.Errorf("invalid context key %q", s)
	}
	d, err := strconv.Atoi(parts[3])
	if err != nil {
		return ContextKey{}, fmt.Errorf("invalid token delta in %q: %w", s, err)
	}
	return ContextKey{
		PlayerCard:  parts[0],
		Weather:     cards.Weather(parts[1]),
		HeroMatchup: parts[2],
		TokenDelta:  stats.Clamp(d, -MaxTokenDelta, MaxTokenDelta),
	}, nil
}

// GameState is what the AI knows when it has to answer the player's card.
type GameState struct {
	PlayerCard   string        `json:"playerCard"`
	Weather      cards.Weather `json:"weather"`
	PlayerHero   string        `json:"playerHero"`
	AIHero       string        `json:"aiHero"`
	PlayerTokens int           `json:"playerTokens"`
	AITokens     int           `json:"aiTokens"`
	Round        int           `json:"round,omitempty"`
}

func (s GameState) Key() ContextKey {
	return NewContextKey(s.PlayerCard, s.Weather, s.PlayerHero, s.AIHero, s.PlayerTokens-s.AITokens)
}
