package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"gamecore/internal/model"
	"gamecore/internal/protocol"
)

// client is one websocket connection of an authenticated player.
type client struct {
	player model.Player
	send   chan []byte // outbound messages
}

// trySend queues data, dropping it if the buffer is full.
func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) fail(roomID, message string) {
	data, _ := protocol.Encode(protocol.Envelope{Type: protocol.TypeError, RoomID: roomID, Error: message})
	c.trySend(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, player model.Player) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin for dev
	})
	if err != nil {
		s.log.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{player: player, send: make(chan []byte, 64)}
	joined := make(map[string]*Room)
	defer func() {
		for _, room := range joined {
			room.detach(player.ID, c)
		}
	}()

	// Writer goroutine: send queued messages to the websocket
	go func() {
		for {
			select {
			case msg := <-c.send:
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		env, err := protocol.Decode(data)
		if err != nil {
			var probe struct {
				RoomID string `json:"roomId"`
			}
			json.Unmarshal(data, &probe)
			c.fail(probe.RoomID, "invalid message: "+err.Error())
			continue
		}
		s.handleMessage(ctx, c, joined, env)
	}

	// Seats are kept so the player can reconnect
	s.log.Debug("player disconnected", zap.String("player", player.ID))
}

func (s *Server) handleMessage(ctx context.Context, c *client, joined map[string]*Room, env protocol.Envelope) {
	room, ok := s.rooms.Get(env.RoomID)
	if !ok {
		c.fail(env.RoomID, "room not found")
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		if !room.attach(c.player.ID, c) {
			if _, err := room.Join(c.player); err != nil {
				c.fail(env.RoomID, err.Error())
				return
			}
			room.attach(c.player.ID, c)
			s.rooms.Save(ctx, room)
		}
		joined[room.ID()] = room
		s.publish(room, "")

	case protocol.TypeLeaveRoom:
		if _, err := room.Leave(c.player.ID); err != nil {
			c.fail(env.RoomID, err.Error())
			return
		}
		delete(joined, room.ID())
		s.rooms.Save(ctx, room)
		s.publish(room, "")

	case protocol.TypeGameMove:
		if env.PlayerID != c.player.ID {
			c.fail(env.RoomID, "cannot move for another player")
			return
		}
		if err := room.Move(c.player.ID, *env.Move); err != nil {
			c.fail(env.RoomID, err.Error())
			return
		}
		s.rooms.Save(ctx, room)
		s.publish(room, "")

	default:
		c.fail(env.RoomID, "unsupported message type: "+env.Type)
	}
}

// publish broadcasts the room's state as typ, or as game_ended or
// game_state_update when typ is empty.
func (s *Server) publish(room *Room, typ string) {
	st := room.Snapshot()
	env := protocol.Envelope{Type: typ, RoomID: room.ID(), State: &st}
	switch {
	case typ == protocol.TypeGameStarted:
		env.Variant = room.Descriptor().Variant
	case st.Status == model.StatusFinished:
		env.Type = protocol.TypeGameEnded
		env.Outcome = st.Outcome
	default:
		env.Type = protocol.TypeGameStateUpdate
	}
	room.broadcast(env)
}
