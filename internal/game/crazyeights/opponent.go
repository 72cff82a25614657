package crazyeights

import (
	"math/rand/v2"

	"gamecore/internal/game"
)

// Opponent plays a random matching card, keeping eights back until nothing
// else fits. An eight names the suit the opponent holds most of.
type Opponent struct{}

func (Opponent) Decide(gs game.State, playerID string, rng *rand.Rand) game.Move {
	s, ok := gs.(*State)
	if !ok || s.Done || s.Players[s.Next] != playerID {
		return game.Pass
	}
	hand := s.Hands[s.Next]

	var plain, eights []Card
	for _, c := range hand {
		switch {
		case !s.playable(c):
		case c.Rank == wild:
			eights = append(eights, c)
		default:
			plain = append(plain, c)
		}
	}
	if len(plain) > 0 {
		return Play(plain[rng.IntN(len(plain))])
	}
	if len(eights) > 0 {
		c := eights[rng.IntN(len(eights))]
		return PlayEight(c, favouriteSuit(hand, c, rng))
	}
	if len(s.Stock) > 0 {
		return Draw()
	}
	return Skip()
}

// favouriteSuit returns the suit most held in hand once played leaves,
// breaking ties at random. With nothing left it keeps the eight's suit.
func favouriteSuit(hand []Card, played Card, rng *rand.Rand) string {
	counts := make(map[string]int, len(Suits))
	for _, c := range hand {
		if c != played {
			counts[c.Suit]++
		}
	}
	var best []string
	bestCount := 0
	for _, suit := range Suits {
		switch n := counts[suit]; {
		case n > bestCount:
			best, bestCount = []string{suit}, n
		case n == bestCount && n > 0:
			best = append(best, suit)
		}
	}
	if len(best) == 0 {
		return played.Suit
	}
	return best[rng.IntN(len(best))]
}
