// Package racing implements a turn-based drag race for 2 to 4 cars. Each
// turn a driver accelerates, holds or brakes, then moves by their speed.
package racing

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"gamecore/internal/game"
)

const (
	Name = "racing"

	MoveAccelerate = "accelerate"
	MoveHold       = "hold"
	MoveBrake      = "brake"

	DefaultTrack     = 60
	DefaultMaxSpeed  = 6
	DefaultMaxRounds = 30
)

// Racing implements game.Variant.
type Racing struct{}

func (Racing) Info() game.Info {
	return game.Info{Name: Name, Title: "Racing", MinPlayers: 2, MaxPlayers: 4}
}

func (Racing) NewState(players []string, _ *rand.Rand) (game.State, error) {
	if len(players) < 2 || len(players) > 4 {
		return nil, fmt.Errorf("racing needs 2-4 players, got %d", len(players))
	}
	s := &State{
		Players:   append([]string(nil), players...),
		Positions: make([]int, len(players)),
		Speeds:    make([]int, len(players)),
		Track:     DefaultTrack,
		MaxSpeed:  DefaultMaxSpeed,
		MaxRounds: DefaultMaxRounds,
		Winner:    -1,
	}
	for i := range s.Speeds {
		s.Speeds[i] = 1
	}
	return s, nil
}

func (Racing) Decode(payload json.RawMessage) (game.State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode racing state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid racing state: %w", err)
	}
	return &s, nil
}

// State implements game.State.
type State struct {
	Players   []string `json:"players"`
	Positions []int    `json:"positions"`
	Speeds    []int    `json:"speeds"`
	Track     int      `json:"track"`
	MaxSpeed  int      `json:"maxSpeed"`
	MaxRounds int      `json:"maxRounds"`
	Round     int      `json:"round"`
	Next      int      `json:"next"`
	Done      bool     `json:"done"`
	Winner    int      `json:"winner"` // -1 while racing or on a tie
}

// Accelerate, Hold and Brake build the three moves.
func Accelerate() game.Move { return game.Move{Type: MoveAccelerate} }
func Hold() game.Move       { return game.Move{Type: MoveHold} }
func Brake() game.Move      { return game.Move{Type: MoveBrake} }

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
	moves := []game.Move{Hold()}
	if s.Speeds[s.Next] < s.MaxSpeed {
		moves = append(moves, Accelerate())
	}
	if s.Speeds[s.Next] > 1 {
		moves = append(moves, Brake())
	}
	return moves
}

func (s *State) Apply(playerID string, m game.Move) error {
	if s.Done {
		return game.Illegalf("race is over")
	}
	if playerID != s.Players[s.Next] {
		return game.NotYourTurn(playerID)
	}
	i := s.Next
	switch m.Type {
	case MoveAccelerate:
		if s.Speeds[i] >= s.MaxSpeed {
			return game.Illegalf("already at top speed %d", s.MaxSpeed)
		}
		s.Speeds[i]++
	case MoveHold:
	case MoveBrake:
		if s.Speeds[i] <= 1 {
			return game.Illegalf("cannot brake below speed 1")
		}
		s.Speeds[i]--
	default:
		return game.Illegalf("unknown move type: %s", m.Type)
	}

	s.Positions[i] += s.Speeds[i]
	if s.Positions[i] >= s.Track {
		s.Done = true
		s.Winner = i
		return nil
	}

	s.Next = (s.Next + 1) % len(s.Players)
	if s.Next == 0 {
		s.Round++
		if s.Round >= s.MaxRounds {
			s.Done = true
			s.Winner = s.leader()
		}
	}
	return nil
}

// leader returns the index of the furthest car, or -1 on a tie.
func (s *State) leader() int {
	best, lead := -1, -1
	for i, p := range s.Positions {
		switch {
		case p > best:
			best, lead = p, i
		case p == best:
			lead = -1
		}
	}
	return lead
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

func (s *State) validate() error {
	n := len(s.Players)
	if n < 2 || n > 4 {
		return fmt.Errorf("%d players out of range", n)
	}
	if len(s.Positions) != n || len(s.Speeds) != n {
		return fmt.Errorf("positions/speeds do not match %d players", n)
	}
	if s.Track <= 0 || s.MaxSpeed <= 0 || s.MaxRounds <= 0 {
		return fmt.Errorf("track parameters must be positive")
	}
	for i := range s.Players {
		if s.Speeds[i] < 1 || s.Speeds[i] > s.MaxSpeed {
			return fmt.Errorf("speed %d of car %d out of range", s.Speeds[i], i)
		}
		if s.Positions[i] < 0 {
			return fmt.Errorf("negative position for car %d", i)
		}
	}
	if s.Next < 0 || s.Next >= n {
		return fmt.Errorf("next %d out of range", s.Next)
	}
	if s.Winner < -1 || s.Winner >= n || (!s.Done && s.Winner != -1) {
		return fmt.Errorf("winner %d inconsistent with done=%v", s.Winner, s.Done)
	}
	return nil
}
