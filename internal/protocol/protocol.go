// Package protocol defines the messages exchanged with the relay backend:
// the duplex envelope carried over the websocket and the room REST bodies.
package protocol

import (
	"encoding/json"
	"fmt"

	"gamecore/internal/game"
	"gamecore/internal/model"
)

// Message types.
const (
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeGameMove        = "game_move"
	TypeGameStateUpdate = "game_state_update"
	TypeGameStarted     = "game_started"
	TypeGameEnded       = "game_ended"
	TypeError           = "error"
)

// Envelope is one duplex message. Which optional fields are set depends on
// Type.
type Envelope struct {
	Type     string         `json:"type"`
	RoomID   string         `json:"roomId"`
	PlayerID string         `json:"playerId,omitempty"`
	Move     *game.Move     `json:"move,omitempty"`
	Variant  string         `json:"variant,omitempty"`
	State    *RoomState     `json:"state,omitempty"`
	Outcome  *model.Outcome `json:"outcome,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RoomState is the authoritative snapshot of a room.
type RoomState struct {
	Participants []model.Player  `json:"participants"`
	Status       model.Status    `json:"status"`
	Turn         string          `json:"turn,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Outcome      *model.Outcome  `json:"outcome,omitempty"`
}

// Encode marshals an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and checks an inbound envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks that the fields required by the message type are set.
func (e Envelope) Validate() error {
	if e.RoomID == "" {
		return fmt.Errorf("%s: missing roomId", e.Type)
	}
	switch e.Type {
	case TypeJoinRoom, TypeLeaveRoom:
	case TypeGameMove:
		if e.PlayerID == "" || e.Move == nil {
			return fmt.Errorf("%s: missing playerId or move", e.Type)
		}
	case TypeGameStateUpdate, TypeGameStarted:
		if e.State == nil {
			return fmt.Errorf("%s: missing state", e.Type)
		}
	case TypeGameEnded:
		if e.Outcome == nil && (e.State == nil || e.State.Outcome == nil) {
			return fmt.Errorf("%s: missing outcome", e.Type)
		}
	case TypeError:
	default:
		return fmt.Errorf("unknown message type %q", e.Type)
	}
	return nil
}

// CreateRoomRequest is the body of POST /api/rooms.
type CreateRoomRequest struct {
	Variant  string `json:"variant"`
	Capacity int    `json:"capacity"`
}

// JoinRoomRequest is the body of POST /api/rooms/{id}/join.
type JoinRoomRequest struct {
	DisplayName string `json:"displayName,omitempty"`
}

// RoomDescriptor describes a room.
type RoomDescriptor struct {
	ID           string         `json:"id"`
	Variant      string         `json:"variant"`
	Capacity     int            `json:"capacity"`
	HostID       string         `json:"hostId"`
	Status       model.Status   `json:"status"`
	Participants []model.Player `json:"participants"`
}

// Membership confirms a seat in a room.
type Membership struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
}

// ErrorResponse is the body of every non-2xx REST reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
