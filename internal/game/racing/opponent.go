package racing

import (
	"math/rand/v2"

	"gamecore/internal/game"
)

// accelerateChance is how often the AI driver steps on the gas when it can.
const accelerateChance = 0.7

// Opponent builds speed incrementally with some randomness, and stops
// accelerating once the current speed already reaches the line.
type Opponent struct{}

func (Opponent) Decide(gs game.State, playerID string, rng *rand.Rand) game.Move {
	s, ok := gs.(*State)
	if !ok || s.Done || s.Players[s.Next] != playerID {
		return game.Pass
	}
	i := s.Next
	if s.Positions[i]+s.Speeds[i] >= s.Track {
		return Hold()
	}
	if s.Speeds[i] < s.MaxSpeed && rng.Float64() < accelerateChance {
		return Accelerate()
	}
	return Hold()
}
