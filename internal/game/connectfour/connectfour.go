// Package connectfour implements the 7x6 gravity board game.
package connectfour

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"gamecore/internal/game"
)

const (
	Name = "connectfour"

	// MoveDrop drops the mover's disc into a column.
	MoveDrop = "drop"

	Cols = 7
	Rows = 6
)

// ConnectFour implements game.Variant.
type ConnectFour struct{}

func (ConnectFour) Info() game.Info {
	return game.Info{Name: Name, Title: "Connect Four", MinPlayers: 2, MaxPlayers: 2}
}

func (ConnectFour) NewState(players []string, _ *rand.Rand) (game.State, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("connectfour needs 2 players, got %d", len(players))
	}
	return &State{Players: [2]string{players[0], players[1]}, Winner: -1}, nil
}

func (ConnectFour) Decode(payload json.RawMessage) (game.State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode connectfour state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid connectfour state: %w", err)
	}
	return &s, nil
}

// State is the board, row 0 at the bottom, index row*Cols+col.
type State struct {
	Players [2]string      `json:"players"`
	Board   [Rows * Cols]int `json:"board"` // 0=empty, 1=player0, 2=player1
	Next    int            `json:"next"`
	Done    bool           `json:"done"`
	Winner  int            `json:"winner"`
}

// ColumnPayload is the payload of a drop move.
type ColumnPayload struct {
	Column int `json:"column"`
}

// Drop builds a drop move.
func Drop(col int) game.Move {
	return game.NewMove(MoveDrop, ColumnPayload{Column: col})
}

func (s *State) Turn() string {
	if s.Done {
		return ""
	}
	return s.Players[s.Next]
}

func (s *State) LegalMoves(playerID string) []game.Move {
	if s.Done || playerID != s.Players[s.Next] {
		return nil
	}
	var moves []game.Move
	for c := 0; c < Cols; c++ {
		if s.height(c) < Rows {
			moves = append(moves, Drop(c))
		}
	}
	return moves
}

func (s *State) Apply(playerID string, m game.Move) error {
	if s.Done {
		return game.Illegalf("game is over")
	}
	if playerID != s.Players[s.Next] {
		return game.NotYourTurn(playerID)
	}
	if m.Type != MoveDrop {
		return game.Illegalf("unknown move type: %s", m.Type)
	}
	var p ColumnPayload
	if err := m.Decode(&p); err != nil {
		return err
	}
	if p.Column < 0 || p.Column >= Cols {
		return game.Illegalf("column %d out of range", p.Column)
	}
	row := s.height(p.Column)
	if row == Rows {
		return game.Illegalf("column %d is full", p.Column)
	}

	mark := s.Next + 1
	s.Board[row*Cols+p.Column] = mark
	switch {
	case s.connects(row, p.Column, mark):
		s.Done = true
		s.Winner = s.Next
	case s.full():
		s.Done = true
		s.Winner = -1
	default:
		s.Next = 1 - s.Next
	}
	return nil
}

func (s *State) Result() (game.Result, bool) {
	if !s.Done {
		return game.Result{}, false
	}
	if s.Winner < 0 {
		return game.Result{Draw: true}, true
	}
	return game.Result{Winner: s.Players[s.Winner]}, true
}

func (s *State) height(col int) int {
	for r := 0; r < Rows; r++ {
		if s.Board[r*Cols+col] == 0 {
			return r
		}
	}
	return Rows
}

func (s *State) at(row, col int) int {
	if row < 0 || row >= Rows || col < 0 || col >= Cols {
		return -1
	}
	return s.Board[row*Cols+col]
}

var directions = [][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// connects reports whether the disc at row/col is part of four in a row.
func (s *State) connects(row, col, mark int) bool {
	for _, d := range directions {
		n := 1
		for k := 1; s.at(row+d[0]*k, col+d[1]*k) == mark; k++ {
			n++
		}
		for k := 1; s.at(row-d[0]*k, col-d[1]*k) == mark; k++ {
			n++
		}
		if n >= 4 {
			return true
		}
	}
	return false
}

func (s *State) full() bool {
	for c := 0; c < Cols; c++ {
		if s.height(c) < Rows {
			return false
		}
	}
	return true
}

func (s *State) validate() error {
	if s.Players[0] == "" || s.Players[1] == "" || s.Players[0] == s.Players[1] {
		return fmt.Errorf("players must be two distinct ids")
	}
	if s.Next != 0 && s.Next != 1 {
		return fmt.Errorf("next %d out of range", s.Next)
	}
	counts := [3]int{}
	for c := 0; c < Cols; c++ {
		gap := false
		for r := 0; r < Rows; r++ {
			v := s.Board[r*Cols+c]
			if v < 0 || v > 2 {
				return fmt.Errorf("cell %d,%d has invalid value %d", r, c, v)
			}
			if v == 0 {
				gap = true
			} else if gap {
				return fmt.Errorf("floating disc in column %d", c)
			}
			counts[v]++
		}
	}
	if counts[1] != counts[2] && counts[1] != counts[2]+1 {
		return fmt.Errorf("disc counts %d/%d are unreachable", counts[1], counts[2])
	}
	if s.Winner < -1 || s.Winner > 1 || (!s.Done && s.Winner != -1) {
		return fmt.Errorf("winner %d inconsistent with done=%v", s.Winner, s.Done)
	}
	return nil
}
