package cards

import "time"

type Winner string

const (
	WinnerPlayer Winner = "player"
	WinnerAI     Winner = "ai"
	WinnerDraw   Winner = "draw"
)

// Seat is one side's state entering a round.
type Seat struct {
	Card   Card
	Hero   Hero
	Tokens int
	Hand   []Card
}

type RoundInput struct {
	Round   int
	Weather Weather
	Player  Seat
	AI      Seat
	History []Play
}

// RoundResult is the immutable training sample produced by one duel.
type RoundResult struct {
	Round              int       `json:"round"`
	PlayerCard         string    `json:"playerCard"`
	AICard             string    `json:"aiCard"`
	PlayerTokensBefore int       `json:"playerTokensBefore"`
	AITokensBefore     int       `json:"aiTokensBefore"`
	PlayerTokensAfter  int       `json:"playerTokensAfter"`
	AITokensAfter      int       `json:"aiTokensAfter"`
	Weather            Weather   `json:"weather"`
	PlayerHero         string    `json:"playerHero"`
	AIHero             string    `json:"aiHero"`
	Winner             Winner    `json:"winner"`
	PlayedAt           time.Time `json:"playedAt,omitempty"`
}

// TokenDelta is the player's token lead before the round.
func (r RoundResult) TokenDelta() int { return r.PlayerTokensBefore - r.AITokensBefore }

type RoundOutcome struct {
	Result      RoundResult
	PlayerScore Breakdown
	AIScore     Breakdown
}

// ResolveRound scores both cards, picks the strictly higher total and applies
// the winning element's token rule plus mechanic effects. Tokens never go below 0.
func ResolveRound(in RoundInput) RoundOutcome {
	ps := Score(ScoreInput{
		Card: in.Player.Card, Opponent: in.AI.Card, Hero: in.Player.Hero,
		OwnTokens: in.Player.Tokens, OpponentTokens: in.AI.Tokens,
		Weather: in.Weather, Hand: in.Player.Hand, History: in.History, Side: SidePlayer,
	})
	as := Score(ScoreInput{
		Card: in.AI.Card, Opponent: in.Player.Card, Hero: in.AI.Hero,
		OwnTokens: in.AI.Tokens, OpponentTokens: in.Player.Tokens,
		Weather: in.Weather, Hand: in.AI.Hand, History: in.History, Side: SideAI,
	})

	res := RoundResult{
		Round:              in.Round,
		PlayerCard:         in.Player.Card.Label(),
		AICard:             in.AI.Card.Label(),
		PlayerTokensBefore: in.Player.Tokens,
		AITokensBefore:     in.AI.Tokens,
		Weather:            in.Weather,
		PlayerHero:         in.Player.Hero.Name,
		AIHero:             in.AI.Hero.Name,
		Winner:             WinnerDraw,
	}

	player, ai := floor(in.Player.Tokens), floor(in.AI.Tokens)
	pt, at := ps.Total(), as.Total()
	switch {
	case pt > at:
		res.Winner = WinnerPlayer
		player, ai = applyWin(in.Round, in.Player.Card, in.AI.Card, player, ai)
	case at > pt:
		res.Winner = WinnerAI
		ai, player = applyWin(in.Round, in.AI.Card, in.Player.Card, ai, player)
	}
	res.PlayerTokensAfter, res.AITokensAfter = player, ai
	return RoundOutcome{Result: res, PlayerScore: ps, AIScore: as}
}

func floor(v int) int { return max(0, v) }

// applyWin returns the winner's and loser's tokens after the element rule and mechanic effects.
func applyWin(round int, win, lose Card, self, opp int) (int, int) {
	self, opp = ApplyElementRule(win.Element, round, self, opp)
	if lose.Has(Ueberladung) {
		opp = floor(opp - 1)
	}
	switch win.Type {
	case TypeBlessing:
		self = floor(self + 1)
	case TypeCurse:
		opp = floor(opp - 1)
	}
	return self, opp
}

// ApplyElementRule applies the winning element's token transfer. Every step is floored at 0.
func ApplyElementRule(e Element, round, self, opp int) (int, int) {
	switch e {
	case Feuer, Eis:
		opp = floor(opp - 1)
	case Wasser:
		self = floor(self + 1)
		opp = floor(opp - 1)
	case Erde, Blitz:
		self = floor(self + 1)
	case Luft, Licht:
		self = floor(self + 2)
	case Schatten:
		if opp >= 1 {
			opp = floor(opp - 1)
			self = floor(self + 1)
		}
	case Chaos:
		if round%2 == 0 {
			self = floor(self + 1)
		} else {
			self = floor(self - 1)
		}
	}
	return self, opp
}
