package wordguess

import (
	"math/rand/v2"
	"slices"
	"strings"

	"gamecore/internal/game"
)

// englishOrder is the fallback letter order when no dictionary word fits.
const englishOrder = "etaoinshrdlcumwfgypbvkjxqz"

// Opponent guesses the word once a single candidate remains, otherwise the
// unguessed letter found in the most candidates.
type Opponent struct{}

func (Opponent) Decide(gs game.State, playerID string, rng *rand.Rand) game.Move {
	s, ok := gs.(*State)
	if !ok || s.Done || s.Players[s.Next] != playerID {
		return game.Pass
	}

	candidates := s.Candidates()
	if len(candidates) == 1 {
		return Word(candidates[0])
	}

	var best []string
	bestCount := 0
	for l := 'a'; l <= 'z'; l++ {
		letter := string(l)
		if slices.Contains(s.Guessed, letter) {
			continue
		}
		n := 0
		for _, w := range candidates {
			if strings.Contains(w, letter) {
				n++
			}
		}
		switch {
		case n > bestCount:
			best, bestCount = []string{letter}, n
		case n == bestCount && n > 0:
			best = append(best, letter)
		}
	}
	if len(best) > 0 {
		return Letter(best[rng.IntN(len(best))])
	}

	for _, l := range englishOrder {
		if !slices.Contains(s.Guessed, string(l)) {
			return Letter(string(l))
		}
	}
	return game.Pass
}
