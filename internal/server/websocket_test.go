package server

import (
	"net/http"
	"testing"

	"nhooyr.io/websocket"

	"gamecore/internal/model"
	"gamecore/internal/protocol"
)

func TestWSRequiresToken(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(env.ts), nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	// query parameter fallback
	conn, _, err := websocket.Dial(ctx, wsURL(env.ts)+"?access_token="+env.token(t, "alice"), nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWSJoinAndReceiveState(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")

	conn := env.wsConnect(t, room.ID, "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readType(t, ctx, conn, protocol.TypeGameStateUpdate)
	if msg.RoomID != room.ID {
		t.Fatalf("expected room %s, got %s", room.ID, msg.RoomID)
	}
	if msg.State.Status != model.StatusWaiting || !containsPlayer(msg.State, "alice") {
		t.Fatalf("unexpected state %+v", msg.State)
	}
}

func TestWSJoinNewPlayer(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")

	// bob is seated by the join_room message itself
	conn := env.wsConnect(t, room.ID, "bob")
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readType(t, ctx, conn, protocol.TypeGameStateUpdate)
	if !containsPlayer(msg.State, "bob") {
		t.Fatalf("expected bob to be seated, got %v", msg.State.Participants)
	}
}

func TestWSRoomNotFound(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()

	conn := env.wsConnect(t, "nonexistent", "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readType(t, ctx, conn, protocol.TypeError)
	if msg.RoomID != "nonexistent" {
		t.Fatalf("expected error for nonexistent, got %q", msg.RoomID)
	}
}

func TestWSInvalidMessage(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")
	conn := env.wsConnect(t, room.ID, "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")
	readType(t, ctx, conn, protocol.TypeGameStateUpdate)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"game_move","roomId":"`+room.ID+`"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readType(t, ctx, conn, protocol.TypeError)
	if msg.RoomID != room.ID {
		t.Fatalf("expected error for room %s, got %q", room.ID, msg.RoomID)
	}

	wsSend(ctx, t, conn, protocol.Envelope{Type: protocol.TypeGameStarted, RoomID: room.ID, State: &protocol.RoomState{}})
	readType(t, ctx, conn, protocol.TypeError)
}

func TestWSMoveBeforeStart(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")
	conn := env.wsConnect(t, room.ID, "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")
	readType(t, ctx, conn, protocol.TypeGameStateUpdate)

	wsSend(ctx, t, conn, move("alice", room.ID, 0))
	readType(t, ctx, conn, protocol.TypeError)
}

func TestWSMoveForAnotherPlayer(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")
	env.joinRoom(t, room.ID, "bob")
	conn := env.wsConnect(t, room.ID, "bob")
	defer conn.Close(websocket.StatusNormalClosure, "")
	readType(t, ctx, conn, protocol.TypeGameStateUpdate)
	if code := env.call(t, http.MethodPost, "/api/rooms/"+room.ID+"/start", "alice", nil, nil); code != http.StatusOK {
		t.Fatalf("start: %d", code)
	}
	readType(t, ctx, conn, protocol.TypeGameStarted)

	wsSend(ctx, t, conn, move("alice", room.ID, 0))
	readType(t, ctx, conn, protocol.TypeError)

	r, _ := env.rooms.Get(room.ID)
	if b := board(t, ptr(r.Snapshot())); b[0] != 0 {
		t.Fatalf("expected cell 0 untouched, got %v", b)
	}
}

func TestWSUnknownMessageType(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	room := env.createRoom(t, "tictactoe", "alice")
	conn := env.wsConnect(t, room.ID, "alice")
	defer conn.Close(websocket.StatusNormalClosure, "")
	readType(t, ctx, conn, protocol.TypeGameStateUpdate)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus","roomId":"`+room.ID+`"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readType(t, ctx, conn, protocol.TypeError)
}

func ptr[T any](v T) *T { return &v }
