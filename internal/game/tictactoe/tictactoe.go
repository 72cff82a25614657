package tictactoe

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"gamecore/internal/game"
)

// Name is the registry key of this variant.
const Name = "tictactoe"

// MoveMark is the only move type: place the mover's mark on a cell.
const MoveMark = "mark"

// TicTacToe implements game.Variant.
type TicTacToe struct{}

func (t TicTacToe) Info() game.Info {
	return game.Info{
		Name:       Name,
		Title:      "Tic-Tac-Toe",
		MinPlayers: 2,
		MaxPlayers: 2,
	}
}

func (t TicTacToe) NewState(players []string, _ *rand.Rand) (game.State, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("tictactoe needs 2 players, got %d", len(players))
	}
	return &State{
		Players: [2]string{players[0], players[1]},
		Winner:  -1,
	}, nil
}

func (t TicTacToe) Decode(payload json.RawMessage) (game.State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode tictactoe state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid tictactoe state: %w", err)
	}
	return &s, nil
}

// State implements game.State for tic-tac-toe.
type State struct {
	Players [2]string `json:"players"`
	Board   [9]int    `json:"board"` // 0=empty, 1=player0(X), 2=player1(O)
	Next    int       `json:"next"`  // index into Players
	Done    bool      `json:"done"`
	Winner  int       `json:"winner"` // -1=none or draw, 0 or 1=winner index
}

// CellPayload is the payload of a mark move.
type CellPayload struct {
	Cell int `json:"cell"`
}

// Mark builds a mark move for the given cell.
func Mark(cell int) game.Move {
	return game.NewMove(MoveMark, CellPayload{Cell: cell})
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
	for i, v := range s.Board {
		if v == 0 {
			moves = append(moves, Mark(i))
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
	if m.Type != MoveMark {
		return game.Illegalf("unknown move type: %s", m.Type)
	}
	var p CellPayload
	if err := m.Decode(&p); err != nil {
		return err
	}
	if p.Cell < 0 || p.Cell > 8 {
		return game.Illegalf("cell %d out of range", p.Cell)
	}
	if s.Board[p.Cell] != 0 {
		return game.Illegalf("cell %d already occupied", p.Cell)
	}

	mark := s.Next + 1 // 1 for X, 2 for O
	s.Board[p.Cell] = mark
	if s.hasLine(mark) {
		s.Done = true
		s.Winner = s.Next
	} else if s.full() {
		s.Done = true
		s.Winner = -1
	} else {
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

// MarkOf returns the board value used for playerID, or 0.
func (s *State) MarkOf(playerID string) int {
	for i, id := range s.Players {
		if id == playerID {
			return i + 1
		}
	}
	return 0
}

var winLines = [][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // cols
	{0, 4, 8}, {2, 4, 6}, // diags
}

func (s *State) hasLine(mark int) bool {
	for _, line := range winLines {
		if s.Board[line[0]] == mark && s.Board[line[1]] == mark && s.Board[line[2]] == mark {
			return true
		}
	}
	return false
}

func (s *State) full() bool {
	for _, v := range s.Board {
		if v == 0 {
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
	var x, o int
	for i, v := range s.Board {
		switch v {
		case 0:
		case 1:
			x++
		case 2:
			o++
		default:
			return fmt.Errorf("cell %d has invalid value %d", i, v)
		}
	}
	if x != o && x != o+1 {
		return fmt.Errorf("mark counts x=%d o=%d are unreachable", x, o)
	}
	if s.Winner < -1 || s.Winner > 1 {
		return fmt.Errorf("winner %d out of range", s.Winner)
	}
	if !s.Done && s.Winner != -1 {
		return fmt.Errorf("winner set on unfinished game")
	}
	return nil
}
