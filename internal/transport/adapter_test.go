package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"gamecore/internal/auth"
	"gamecore/internal/gameerr"
	"gamecore/internal/protocol"
)

// relay is a websocket test peer that records what it receives and can push
// messages or drop the connection.
type relay struct {
	mu       sync.Mutex
	received []protocol.Envelope
	auth     []string
	conns    chan *websocket.Conn
}

func newRelay(t *testing.T) (*relay, *httptest.Server) {
	t.Helper()
	r := &relay{conns: make(chan *websocket.Conn, 8)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		r.mu.Unlock()
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		r.conns <- conn
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			r.mu.Lock()
			r.received = append(r.received, env)
			r.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *relay) snapshot() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.received...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	a := New(Config{
		URL:              url,
		Tokens:           auth.StaticToken("secret-token"),
		ReconnectInitial: 5 * time.Millisecond,
		ReconnectMax:     20 * time.Millisecond,
		EventBuffer:      64,
	}, zap.NewNop())
	t.Cleanup(func() { a.Close() })
	return a
}

func waitFor(t *testing.T, events <-chan Event, want State) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed while waiting for %s", want)
			if ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSendPreservesOrder(t *testing.T) {
	r, srv := newRelay(t)
	a := newAdapter(t, wsURL(srv))
	require.NoError(t, a.Start(context.Background()))
	waitFor(t, a.Events(), StateConnected)
	assert.Equal(t, StateConnected, a.State())

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, a.Send(context.Background(), protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: id}))
	}
	require.Eventually(t, func() bool { return len(r.snapshot()) == 4 }, 5*time.Second, 5*time.Millisecond)
	var ids []string
	for _, e := range r.snapshot() {
		ids = append(ids, e.RoomID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, ids)

	r.mu.Lock()
	assert.Equal(t, "Bearer secret-token", r.auth[0])
	r.mu.Unlock()
}

func TestInboundDispatchInArrivalOrder(t *testing.T) {
	r, srv := newRelay(t)
	a := newAdapter(t, wsURL(srv))

	var mu sync.Mutex
	var got []string
	a.Subscribe(func(e protocol.Envelope) {
		mu.Lock()
		got = append(got, e.RoomID)
		mu.Unlock()
	})
	unsub := a.Subscribe(func(protocol.Envelope) { t.Error("unsubscribed handler called") })
	unsub()

	require.NoError(t, a.Start(context.Background()))
	conn := <-r.conns
	for _, id := range []string{"a", "b", "c"} {
		data, err := protocol.Encode(protocol.Envelope{Type: protocol.TypeError, RoomID: id, Error: "x"})
		require.NoError(t, err)
		require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
	}
	// malformed messages are skipped
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"bogus"}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
	mu.Unlock()
}

func TestReconnectsAfterDrop(t *testing.T) {
	r, srv := newRelay(t)
	a := newAdapter(t, wsURL(srv))
	require.NoError(t, a.Start(context.Background()))
	waitFor(t, a.Events(), StateConnected)

	conn := <-r.conns
	conn.Close(websocket.StatusGoingAway, "restart")

	ev := waitFor(t, a.Events(), StateDisconnected)
	assert.ErrorIs(t, ev.Err, gameerr.ErrConnectionLost)
	waitFor(t, a.Events(), StateConnected)

	require.NoError(t, a.Send(context.Background(), protocol.Envelope{Type: protocol.TypeLeaveRoom, RoomID: "r1"}))
}

func TestDialFailureBacksOff(t *testing.T) {
	_, srv := newRelay(t)
	url := wsURL(srv)
	srv.Close()

	a := newAdapter(t, url)
	require.NoError(t, a.Start(context.Background()))
	first := waitFor(t, a.Events(), StateDisconnected)
	second := waitFor(t, a.Events(), StateDisconnected)
	assert.Equal(t, 1, first.Attempt)
	assert.Greater(t, second.Attempt, first.Attempt)
	assert.ErrorIs(t, second.Err, gameerr.ErrConnectionLost)
}

func TestCloseFailsPendingSends(t *testing.T) {
	_, srv := newRelay(t)
	url := wsURL(srv)
	srv.Close()

	a := newAdapter(t, url)
	require.NoError(t, a.Start(context.Background()))

	errc := make(chan error, 1)
	go func() {
		errc <- a.Send(context.Background(), protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: "r1"})
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, gameerr.ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("send hung after close")
	}
	assert.ErrorIs(t, a.Send(context.Background(), protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: "r1"}), gameerr.ErrConnectionLost)

	var last Event
	for ev := range a.Events() {
		last = ev
	}
	assert.Equal(t, StateDisconnected, last.State)
	assert.ErrorIs(t, last.Err, gameerr.ErrConnectionLost)
	assert.Error(t, a.Start(context.Background()))
}

func TestWithdrawnSendIsNeverWritten(t *testing.T) {
	r, srv := newRelay(t)
	a := newAdapter(t, wsURL(srv))

	// not started yet, so the envelope waits in the queue
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, protocol.Envelope{Type: protocol.TypeGameMove, RoomID: "stale"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, a.Start(context.Background()))
	waitFor(t, a.Events(), StateConnected)
	require.NoError(t, a.Send(context.Background(), protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: "fresh"}))

	require.Eventually(t, func() bool { return len(r.snapshot()) > 0 }, 5*time.Second, 5*time.Millisecond)
	got := r.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].RoomID)
}

func TestEventsDropOldest(t *testing.T) {
	a := New(Config{URL: "ws://unused", EventBuffer: 2}, zap.NewNop())
	a.emit(Event{State: StateConnecting, Attempt: 1})
	a.emit(Event{State: StateDisconnected, Attempt: 1})
	a.emit(Event{State: StateConnecting, Attempt: 2})

	assert.Equal(t, Event{State: StateDisconnected, Attempt: 1}, <-a.Events())
	assert.Equal(t, Event{State: StateConnecting, Attempt: 2}, <-a.Events())
}
