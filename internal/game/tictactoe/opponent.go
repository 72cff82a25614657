package tictactoe

import (
	"math/rand/v2"

	"gamecore/internal/game"
)

var corners = []int{0, 2, 6, 8}

// Opponent plays a fixed priority heuristic: win, block, center, a random
// free corner, then any random free cell. Random choices come from the
// caller's generator so a seeded generator reproduces the same game.
type Opponent struct{}

func (Opponent) Decide(gs game.State, playerID string, rng *rand.Rand) game.Move {
	s, ok := gs.(*State)
	if !ok || s.Done {
		return game.Pass
	}
	me := s.MarkOf(playerID)
	if me == 0 {
		return game.Pass
	}
	them := 3 - me

	if cell := s.completing(me); cell >= 0 {
		return Mark(cell)
	}
	if cell := s.completing(them); cell >= 0 {
		return Mark(cell)
	}
	if s.Board[4] == 0 {
		return Mark(4)
	}
	if cell := pick(s.freeAmong(corners), rng); cell >= 0 {
		return Mark(cell)
	}
	if cell := pick(s.freeAmong(nil), rng); cell >= 0 {
		return Mark(cell)
	}
	return game.Pass
}

// completing returns a free cell that gives mark three in a row, or -1.
func (s *State) completing(mark int) int {
	for _, line := range winLines {
		count, free := 0, -1
		for _, c := range line {
			switch s.Board[c] {
			case mark:
				count++
			case 0:
				free = c
			}
		}
		if count == 2 && free >= 0 {
			return free
		}
	}
	return -1
}

// freeAmong returns the free cells of candidates, or of the whole board
// when candidates is nil, in ascending order.
func (s *State) freeAmong(candidates []int) []int {
	var free []int
	if candidates == nil {
		for i, v := range s.Board {
			if v == 0 {
				free = append(free, i)
			}
		}
		return free
	}
	for _, c := range candidates {
		if s.Board[c] == 0 {
			free = append(free, c)
		}
	}
	return free
}

func pick(cells []int, rng *rand.Rand) int {
	if len(cells) == 0 {
		return -1
	}
	return cells[rng.IntN(len(cells))]
}
