package connectfour

import (
	"math/rand/v2"

	"gamecore/internal/game"
)

// Opponent wins if it can, blocks an immediate threat, and otherwise
// prefers central columns that do not hand the opponent a win directly
// above its own disc.
type Opponent struct{}

func (Opponent) Decide(gs game.State, playerID string, rng *rand.Rand) game.Move {
	s, ok := gs.(*State)
	if !ok || s.Done || s.Players[s.Next] != playerID {
		return game.Pass
	}
	me := s.Next + 1
	them := 3 - me

	open := s.openColumns()
	if len(open) == 0 {
		return game.Pass
	}
	for _, c := range open {
		if s.wins(c, me) {
			return Drop(c)
		}
	}
	for _, c := range open {
		if s.wins(c, them) {
			return Drop(c)
		}
	}

	var safe []int
	for _, c := range open {
		if !s.givesAway(c, me, them) {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		safe = open
	}

	best, bestScore := []int(nil), -Cols
	for _, c := range safe {
		score := -abs(c - Cols/2)
		switch {
		case score > bestScore:
			best, bestScore = []int{c}, score
		case score == bestScore:
			best = append(best, c)
		}
	}
	return Drop(best[rng.IntN(len(best))])
}

func (s *State) openColumns() []int {
	var cols []int
	for c := 0; c < Cols; c++ {
		if s.height(c) < Rows {
			cols = append(cols, c)
		}
	}
	return cols
}

// wins reports whether dropping mark into col connects four.
func (s *State) wins(col, mark int) bool {
	row := s.height(col)
	if row == Rows {
		return false
	}
	s.Board[row*Cols+col] = mark
	ok := s.connects(row, col, mark)
	s.Board[row*Cols+col] = 0
	return ok
}

// givesAway reports whether dropping into col lets them win on top of it.
func (s *State) givesAway(col, me, them int) bool {
	row := s.height(col)
	if row+1 >= Rows {
		return false
	}
	s.Board[row*Cols+col] = me
	bad := s.wins(col, them)
	s.Board[row*Cols+col] = 0
	return bad
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
