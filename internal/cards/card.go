package cards

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"strings"
)

type Mechanic string

const (
	Ueberladung       Mechanic = "Überladung"
	Wetterbindung     Mechanic = "Wetterbindung"
	Elementarresonanz Mechanic = "Elementarresonanz"
	Fusion            Mechanic = "Fusion"
	Ketteneffekte     Mechanic = "Ketteneffekte"
)

var Mechanics = []Mechanic{Ueberladung, Wetterbindung, Elementarresonanz, Fusion, Ketteneffekte}

// CardType affects lifespan and charges.
type CardType string

const (
	TypeUnit     CardType = "Einheit"
	TypeBlessing CardType = "Segen"
	TypeCurse    CardType = "Fluch"
	TypeArtifact CardType = "Artefakt"
	TypeSummon   CardType = "Beschwörung"
)

type Origin string

const (
	OriginCore      Origin = "core"
	OriginCustom    Origin = "custom"
	OriginGenerated Origin = "generated"
)

var ErrNotFusable = errors.New("cards are not fusable")

type Card struct {
	ID        string     `json:"id"`
	Element   Element    `json:"element"`
	Rank      int        `json:"rank"`
	Type      CardType   `json:"type"`
	Mechanics []Mechanic `json:"mechanics,omitempty"`
	Lifespan  *int       `json:"lifespan,omitempty"`
	Charges   *int       `json:"charges,omitempty"`
	Origin    Origin     `json:"origin"`
}

func (c Card) Label() string { return Label(c.Element, c.Rank) }

func (c Card) Has(m Mechanic) bool { return slices.Contains(c.Mechanics, m) }

func (c Card) IsBlessingOrCurse() bool { return c.Type == TypeBlessing || c.Type == TypeCurse }

// NewCard builds a plain unit card from a label such as "Wasser Funke".
func NewCard(id, label string) (Card, error) {
	e, rank, err := ParseLabel(label)
	if err != nil {
		return Card{}, err
	}
	return Card{ID: id, Element: e, Rank: rank, Type: TypeUnit, Origin: OriginCore}, nil
}

func intPtr(v int) *int { return &v }

// Deck is an ordered draw pile with ids unique within the instance.
type Deck struct {
	prefix string
	cards  []Card
	nextID int
}

// NewDeck draws size random core cards. Lower ranks are more common.
func NewDeck(rng *rand.Rand, prefix string, size int) *Deck {
	d := &Deck{prefix: prefix}
	for i := 0; i < size; i++ {
		d.cards = append(d.cards, d.randomCard(rng))
	}
	return d
}

func (d *Deck) newID() string {
	d.nextID++
	return fmt.Sprintf("%s-%03d", d.prefix, d.nextID)
}

func (d *Deck) randomCard(rng *rand.Rand) Card {
	// triangular distribution over ranks favours the weak end
	rank := min(rng.Intn(MaxRank+1), rng.Intn(MaxRank+1))
	c := Card{
		ID:      d.newID(),
		Element: Elements[rng.Intn(len(Elements))],
		Rank:    rank,
		Type:    TypeUnit,
		Origin:  OriginCore,
	}
	switch roll := rng.Float64(); {
	case roll < 0.08:
		c.Type = TypeBlessing
	case roll < 0.16:
		c.Type = TypeCurse
	case roll < 0.22:
		c.Type = TypeArtifact
		c.Charges = intPtr(1 + rng.Intn(3))
	case roll < 0.30:
		c.Type = TypeSummon
		c.Lifespan = intPtr(1 + rng.Intn(4))
	}
	if rng.Float64() < 0.35 {
		c.Mechanics = append(c.Mechanics, Mechanics[rng.Intn(len(Mechanics))])
	}
	return c
}

func (d *Deck) Len() int { return len(d.cards) }

// Draw removes up to n cards from the top of the deck.
func (d *Deck) Draw(n int) []Card {
	n = min(n, len(d.cards))
	out := append([]Card(nil), d.cards[:n]...)
	d.cards = d.cards[n:]
	return out
}

// IDsUnique reports whether no two cards share an id.
func IDsUnique(cs []Card) bool {
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		if _, ok := seen[c.ID]; ok {
			return false
		}
		seen[c.ID] = struct{}{}
	}
	return true
}

// FusionPartners returns the indexes of every pair of fusable cards in hand.
func FusionPartners(hand []Card) [][2]int {
	var pairs [][2]int
	for i := range hand {
		if !hand[i].Has(Fusion) {
			continue
		}
		for j := i + 1; j < len(hand); j++ {
			if hand[j].Has(Fusion) {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// Fuse merges two fusable cards. The stronger card keeps its element and the
// result is one rank higher; the Fusion tag is consumed.
func Fuse(a, b Card) (Card, error) {
	if !a.Has(Fusion) || !b.Has(Fusion) {
		return Card{}, ErrNotFusable
	}
	if b.Rank > a.Rank {
		a, b = b, a
	}
	out := Card{
		ID:      a.ID + "+" + b.ID,
		Element: a.Element,
		Rank:    min(MaxRank, a.Rank+1),
		Type:    a.Type,
		Origin:  OriginGenerated,
	}
	for _, m := range append(append([]Mechanic(nil), a.Mechanics...), b.Mechanics...) {
		if m != Fusion && !out.Has(m) {
			out.Mechanics = append(out.Mechanics, m)
		}
	}
	if a.Lifespan != nil {
		out.Lifespan = intPtr(*a.Lifespan)
	}
	return out, nil
}

// FusedSignature identifies a pair independently of order.
func FusedSignature(a, b Card) string {
	labels := []string{a.Label(), b.Label()}
	sort.Strings(labels)
	return strings.Join(labels, "+")
}
