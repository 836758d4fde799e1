// Package cards evaluates Runenkrieg duels: element hierarchy, weather, heroes,
// card mechanics and the token rules applied to the round winner.
package cards

import (
	"fmt"
	"strings"
)

type Element string

const (
	Feuer    Element = "Feuer"
	Wasser   Element = "Wasser"
	Erde     Element = "Erde"
	Luft     Element = "Luft"
	Blitz    Element = "Blitz"
	Eis      Element = "Eis"
	Schatten Element = "Schatten"
	Licht    Element = "Licht"
	Chaos    Element = "Chaos"
)

// Elements lists every element in table order.
var Elements = []Element{Feuer, Wasser, Erde, Luft, Blitz, Eis, Schatten, Licht, Chaos}

func (e Element) Valid() bool {
	for _, x := range Elements {
		if x == e {
			return true
		}
	}
	return false
}

// Ranks are the ability names ordered from weakest (0) to strongest (13).
var Ranks = []string{
	"Funke", "Schimmer", "Hauch", "Woge", "Splitter", "Flamme", "Sturm",
	"Beben", "Orkan", "Inferno", "Zorn", "Titan", "Avatar", "Urgewalt",
}

const MaxRank = 13

func RankName(rank int) string {
	if rank < 0 || rank > MaxRank {
		return ""
	}
	return Ranks[rank]
}

func RankIndex(name string) (int, bool) {
	for i, n := range Ranks {
		if strings.EqualFold(n, name) {
			return i, true
		}
	}
	return 0, false
}

// Label renders the "element rank" form used in training data, e.g. "Feuer Funke".
func Label(e Element, rank int) string {
	return string(e) + " " + RankName(rank)
}

// ParseLabel is the inverse of Label.
func ParseLabel(label string) (Element, int, error) {
	parts := strings.Fields(label)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid card label %q", label)
	}
	e := Element(parts[0])
	if !e.Valid() {
		return "", 0, fmt.Errorf("unknown element in %q", label)
	}
	rank, ok := RankIndex(parts[1])
	if !ok {
		return "", 0, fmt.Errorf("unknown rank in %q", label)
	}
	return e, rank, nil
}

// advantage[attacker][defender]; missing entries mean no relationship.
// The table is intentionally asymmetric.
var advantage = map[Element]map[Element]float64{
	Feuer:    {Eis: 3, Erde: 1, Luft: 1, Wasser: -2},
	Wasser:   {Feuer: 3, Erde: 2, Eis: -1, Blitz: -2, Luft: -3},
	Erde:     {Blitz: 3, Feuer: 1, Wasser: -1, Luft: -2},
	Luft:     {Wasser: 2, Erde: 2, Blitz: -1, Eis: -2},
	Blitz:    {Wasser: 3, Luft: 1, Erde: -3},
	Eis:      {Luft: 2, Wasser: 1, Erde: 1, Feuer: -3},
	Schatten: {Chaos: 1, Luft: 1, Licht: -2},
	Licht:    {Schatten: 3, Chaos: 2},
	Chaos:    {Schatten: 1, Erde: 1, Licht: -1},
}

// ElementAdvantage is the modifier for an attacker playing into a defender.
func ElementAdvantage(attacker, defender Element) float64 {
	return advantage[attacker][defender]
}

// synergyPairs adds a fixed bonus when the partner element is in hand or history.
var synergyPairs = map[Element]map[Element]float64{
	Wasser:   {Eis: 1.5, Erde: 1, Blitz: 1.5},
	Eis:      {Wasser: 1.5},
	Feuer:    {Luft: 1, Licht: 1},
	Luft:     {Feuer: 1},
	Erde:     {Wasser: 1},
	Blitz:    {Wasser: 1.5},
	Schatten: {Chaos: 1},
	Chaos:    {Schatten: 1},
	Licht:    {Feuer: 1},
}

type Weather string

const (
	WeatherClear   Weather = "Klar"
	WeatherRain    Weather = "Regen"
	WeatherHeat    Weather = "Hitze"
	WeatherStorm   Weather = "Sturm"
	WeatherFog     Weather = "Nebel"
	WeatherSnow    Weather = "Schnee"
	WeatherThunder Weather = "Gewitter"
)

var Weathers = []Weather{WeatherClear, WeatherRain, WeatherHeat, WeatherStorm, WeatherFog, WeatherSnow, WeatherThunder}

var weatherTable = map[Weather]map[Element]float64{
	WeatherRain:    {Wasser: 2, Blitz: 1, Erde: -1, Feuer: -2},
	WeatherHeat:    {Feuer: 2, Licht: 1, Wasser: -1, Eis: -2},
	WeatherStorm:   {Luft: 2, Blitz: 1, Erde: -1, Feuer: -1},
	WeatherFog:     {Schatten: 2, Licht: -1, Luft: -1},
	WeatherSnow:    {Eis: 2, Wasser: 1, Feuer: -1, Luft: -1},
	WeatherThunder: {Blitz: 2, Chaos: 1, Wasser: -1, Erde: -1},
}

// WeatherModifier is zero for clear skies and unknown weather.
func WeatherModifier(w Weather, e Element) float64 {
	return weatherTable[w][e]
}

// Hero grants flat bonuses to cards of its favoured elements.
type Hero struct {
	Name  string
	Bonus map[Element]float64
}

var Heroes = []Hero{
	{Name: "Brakka", Bonus: map[Element]float64{Erde: 2, Feuer: 1}},
	{Name: "Liora", Bonus: map[Element]float64{Licht: 2, Wasser: 1}},
	{Name: "Vex", Bonus: map[Element]float64{Schatten: 2, Chaos: 1}},
	{Name: "Sylvara", Bonus: map[Element]float64{Luft: 2, Eis: 1}},
	{Name: "Thorgar", Bonus: map[Element]float64{Blitz: 2, Feuer: 1}},
	{Name: "Nerida", Bonus: map[Element]float64{Wasser: 2, Eis: 1}},
}

// HeroByName returns the hero with the given name; unknown names get no bonus.
func HeroByName(name string) Hero {
	for _, h := range Heroes {
		if strings.EqualFold(h.Name, name) {
			return h
		}
	}
	return Hero{Name: name}
}

func (h Hero) ElementBonus(e Element) float64 { return h.Bonus[e] }

// Matchup is the canonical "own vs opponent" hero string used in context keys.
func Matchup(own, opponent string) string { return own + " vs " + opponent }
