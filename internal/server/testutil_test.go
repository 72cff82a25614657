package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"gamecore/internal/auth"
	"gamecore/internal/catalog"
	"gamecore/internal/game/tictactoe"
	"gamecore/internal/protocol"
	"gamecore/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// --- Test environment ---

type testEnv struct {
	ts     *httptest.Server
	rooms  *Rooms
	signer *auth.Signer
	kv     *storage.Store
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	signer, err := auth.NewSigner(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	reg := catalog.Registry()
	rooms := NewRooms(reg, kv, 1, zap.NewNop())
	ts := httptest.NewServer(New(reg, rooms, signer, zap.NewNop()))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, rooms: rooms, signer: signer, kv: kv}
}

func (e *testEnv) token(t *testing.T, playerID string) string {
	t.Helper()
	tok, err := e.signer.Issue(playerID, strings.ToUpper(playerID[:1])+playerID[1:])
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// --- Context helpers ---

func timeoutCtx(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// --- REST API helpers ---

// call performs an authenticated request as playerID and decodes the reply
// into out when the status is 2xx. It returns the status code.
func (e *testEnv) call(t *testing.T, method, path, playerID string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if playerID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, playerID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) createRoom(t *testing.T, variant, host string) protocol.RoomDescriptor {
	t.Helper()
	var room protocol.RoomDescriptor
	if code := e.call(t, http.MethodPost, "/api/rooms", host, protocol.CreateRoomRequest{Variant: variant}, &room); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	return room
}

func (e *testEnv) joinRoom(t *testing.T, roomID, playerID string) {
	t.Helper()
	if code := e.call(t, http.MethodPost, "/api/rooms/"+roomID+"/join", playerID, nil, nil); code != http.StatusOK {
		t.Fatalf("join %s: expected 200, got %d", playerID, code)
	}
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

// wsConnect dials the websocket as playerID and joins roomID. The caller
// is responsible for closing the connection.
func (e *testEnv) wsConnect(t *testing.T, roomID, playerID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := timeoutCtx(t)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token(t, playerID))
	conn, _, err := websocket.Dial(ctx, wsURL(e.ts), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	wsSend(ctx, t, conn, protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: roomID, PlayerID: playerID})
	return conn
}

// wsSend encodes and writes an envelope, calling t.Fatal on error.
func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

// wsRead reads and decodes one envelope, calling t.Fatal on error.
func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// readType reads one envelope and expects it to have the given type.
func readType(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) protocol.Envelope {
	t.Helper()
	env := wsRead(ctx, t, conn)
	if env.Type != want {
		t.Fatalf("expected %s message, got %q (%s)", want, env.Type, env.Error)
	}
	return env
}

// --- Game helpers ---

func move(playerID, roomID string, cell int) protocol.Envelope {
	m := tictactoe.Mark(cell)
	return protocol.Envelope{Type: protocol.TypeGameMove, RoomID: roomID, PlayerID: playerID, Move: &m}
}

func board(t *testing.T, st *protocol.RoomState) [9]int {
	t.Helper()
	if st == nil {
		t.Fatal("expected state")
	}
	var s tictactoe.State
	if err := json.Unmarshal(st.Payload, &s); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	return s.Board
}

func containsPlayer(st *protocol.RoomState, id string) bool {
	for _, p := range st.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}
