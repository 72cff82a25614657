package tictactoe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamecore/internal/game"
)

func cellOf(t *testing.T, m game.Move) int {
	t.Helper()
	require.Equal(t, MoveMark, m.Type)
	var p CellPayload
	require.NoError(t, m.Decode(&p))
	return p.Cell
}

func TestOpponentTakesWin(t *testing.T) {
	s := newTestState(t)
	// bob (O) holds 3 and 4, alice threatens 0-1-2 as well; winning beats blocking
	play(t, s, "alice", 0, "bob", 3, "alice", 1, "bob", 4, "alice", 8)
	m := Opponent{}.Decide(s, "bob", game.NewRand(1))
	assert.Equal(t, 5, cellOf(t, m))
}

func TestOpponentBlocks(t *testing.T) {
	s := newTestState(t)
	// alice holds 0 and 1, bob has no line to complete
	play(t, s, "alice", 0, "bob", 4, "alice", 1)
	m := Opponent{}.Decide(s, "bob", game.NewRand(1))
	assert.Equal(t, 2, cellOf(t, m))
}

func TestOpponentTakesCenter(t *testing.T) {
	s := newTestState(t)
	play(t, s, "alice", 0)
	m := Opponent{}.Decide(s, "bob", game.NewRand(1))
	assert.Equal(t, 4, cellOf(t, m))
}

func TestOpponentTakesCornerAfterCenter(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		s := newTestState(t)
		play(t, s, "alice", 4)
		cell := cellOf(t, Opponent{}.Decide(s, "bob", game.NewRand(seed)))
		assert.Contains(t, corners, cell, "seed %d", seed)
	}
}

func TestOpponentSeededTieBreakIsReproducible(t *testing.T) {
	s := newTestState(t)
	play(t, s, "alice", 4)
	a := Opponent{}.Decide(s, "bob", game.NewRand(99))
	b := Opponent{}.Decide(s, "bob", game.NewRand(99))
	assert.True(t, a.Equal(b))
}

func TestOpponentPassesOnTerminalBoard(t *testing.T) {
	s := newTestState(t)
	play(t, s, "alice", 0, "bob", 3, "alice", 1, "bob", 4, "alice", 2)
	assert.True(t, Opponent{}.Decide(s, "bob", game.NewRand(1)).IsPass())
}

// blockingCells returns the distinct free cells completing a line for mark.
func blockingCells(s *State, mark int) map[int]bool {
	cells := map[int]bool{}
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
			cells[free] = true
		}
	}
	return cells
}

// TestOpponentExhaustive walks every reachable position and checks that the
// opponent never plays an occupied cell and always blocks a single threat
// when it has no win of its own.
func TestOpponentExhaustive(t *testing.T) {
	for _, aiSeat := range []int{0, 1} {
		t.Run(fmt.Sprintf("seat%d", aiSeat), func(t *testing.T) {
			visited := map[[9]int]bool{}
			positions := 0
			var walk func(s *State)
			walk = func(s *State) {
				if s.Done || visited[s.Board] {
					return
				}
				visited[s.Board] = true

				if s.Next == aiSeat {
					positions++
					ai := s.Players[aiSeat]
					me := aiSeat + 1
					m := Opponent{}.Decide(s, ai, game.NewRand(uint64(positions)))
					cell := cellOf(t, m)
					require.Zero(t, s.Board[cell], "played occupied cell %d on %v", cell, s.Board)

					threats := blockingCells(s, 3-me)
					if len(blockingCells(s, me)) == 0 && len(threats) == 1 {
						require.True(t, threats[cell], "failed to block on %v, played %d", s.Board, cell)
					}
				}

				for _, m := range s.LegalMoves(s.Turn()) {
					next := *s
					require.NoError(t, next.Apply(s.Turn(), m))
					walk(&next)
				}
			}
			walk(newTestState(t))
			assert.Greater(t, positions, 1000)
		})
	}
}
