// Package model holds the game session data model shared by the manager,
// the persistent record store and the wire protocol.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode says who holds state authority over a session.
type Mode string

const (
	ModeMultiplayer Mode = "multiplayer"
	ModeLocal       Mode = "local"
)

// Status represents the session lifecycle.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// OutcomeKind classifies how a finished session ended.
type OutcomeKind string

const (
	OutcomeWinner    OutcomeKind = "winner"
	OutcomeDraw      OutcomeKind = "draw"
	OutcomeAbandoned OutcomeKind = "abandoned"
)

// Outcome is the result of a finished session.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Winner string      `json:"winner,omitempty"`
}

// EndReason records why a session reached StatusFinished.
type EndReason string

const (
	EndCompleted        EndReason = "completed"
	EndLeft             EndReason = "left"
	EndConnectionLost   EndReason = "connection_lost"
	EndOfflineRequested EndReason = "offline_requested"
	EndRemote           EndReason = "remote_ended"
)

// Player is one seat in a session.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsAI        bool   `json:"isAI"`
}

// Session is one instance of a variant being played.
type Session struct {
	ID           string          `json:"id"`
	Variant      string          `json:"variant"`
	Mode         Mode            `json:"mode"`
	Status       Status          `json:"status"`
	Participants []Player        `json:"participants"`
	Turn         string          `json:"turn,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Outcome      *Outcome        `json:"outcome,omitempty"`
	EndReason    EndReason       `json:"endReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices with the registry.
func (s Session) Clone() Session {
	c := s
	if s.Participants != nil {
		c.Participants = append([]Player(nil), s.Participants...)
	}
	if s.Payload != nil {
		c.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	return c
}

// Participant returns the seat with the given id.
func (s Session) Participant(id string) (Player, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// AI returns the AI seat, if any.
func (s Session) AI() (Player, bool) {
	for _, p := range s.Participants {
		if p.IsAI {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerIDs returns participant ids in seat order.
func (s Session) PlayerIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.ID
	}
	return ids
}

// Finished reports whether the session is terminal.
func (s Session) Finished() bool {
	return s.Status == StatusFinished
}

// Validate checks the structural invariants of a session snapshot.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("missing id")
	}
	if s.Variant == "" {
		return fmt.Errorf("missing variant")
	}
	switch s.Mode {
	case ModeLocal, ModeMultiplayer:
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	switch s.Status {
	case StatusWaiting, StatusActive, StatusFinished:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}

	seen := make(map[string]bool, len(s.Participants))
	ai := 0
	for _, p := range s.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate participant %q", p.ID)
		}
		seen[p.ID] = true
		if p.IsAI {
			ai++
		}
	}
	switch s.Mode {
	case ModeLocal:
		if ai != 1 {
			return fmt.Errorf("local session needs exactly one AI player, has %d", ai)
		}
	case ModeMultiplayer:
		if ai != 0 {
			return fmt.Errorf("multiplayer session cannot seat AI players")
		}
	}

	if s.Status == StatusFinished {
		if s.Outcome == nil {
			return fmt.Errorf("finished session without outcome")
		}
	} else {
		if s.Outcome != nil {
			return fmt.Errorf("outcome set on %s session", s.Status)
		}
	}
	if s.Outcome != nil {
		switch s.Outcome.Kind {
		case OutcomeWinner:
			if !seen[s.Outcome.Winner] {
				return fmt.Errorf("winner %q is not a participant", s.Outcome.Winner)
			}
		case OutcomeDraw, OutcomeAbandoned:
		default:
			return fmt.Errorf("unknown outcome %q", s.Outcome.Kind)
		}
	}
	if s.Status == StatusActive {
		if len(s.Payload) == 0 {
			return fmt.Errorf("active session without payload")
		}
		if s.Turn != "" && !seen[s.Turn] {
			return fmt.Errorf("turn %q is not a participant", s.Turn)
		}
	}
	if len(s.Payload) > 0 && !json.Valid(s.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		return fmt.Errorf("missing timestamps")
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("updatedAt precedes createdAt")
	}
	return nil
}
