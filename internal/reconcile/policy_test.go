package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamecore/internal/ai"
	"gamecore/internal/catalog"
	"gamecore/internal/game"
	"gamecore/internal/game/tictactoe"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/protocol"
	"gamecore/internal/record"
	"gamecore/internal/session"
	"gamecore/internal/storage"
	"gamecore/internal/transport"
)

var alice = model.Player{ID: "alice", DisplayName: "Alice"}

type relay struct {
	handler func(protocol.Envelope)
	rooms   int
	// stall, when set, holds game moves until the sender gives up and
	// signals each one that arrives.
	stall chan struct{}
}

func (r *relay) Send(ctx context.Context, env protocol.Envelope) error {
	if r.stall != nil && env.Type == protocol.TypeGameMove {
		r.stall <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *relay) Subscribe(h func(protocol.Envelope)) func() {
	r.handler = h
	return func() {}
}

func (r *relay) CreateRoom(_ context.Context, variant string, capacity int) (protocol.RoomDescriptor, error) {
	r.rooms++
	return protocol.RoomDescriptor{
		ID:           "room-" + string(rune('0'+r.rooms)),
		Variant:      variant,
		Capacity:     capacity,
		Status:       model.StatusWaiting,
		Participants: []model.Player{alice},
	}, nil
}

func (r *relay) JoinRoom(context.Context, string, string) (protocol.Membership, error) {
	return protocol.Membership{}, nil
}

func (r *relay) StartRoom(context.Context, string) error { return nil }

func (r *relay) GetRoom(context.Context, string) (protocol.RoomDescriptor, error) {
	return protocol.RoomDescriptor{}, nil
}

func newManager(t *testing.T) (*session.Manager, *relay) {
	t.Helper()
	kv, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	reg := catalog.Registry()
	r := &relay{}
	m := session.NewManager(session.Deps{
		Variants:  reg,
		Store:     record.New(kv, reg, record.Config{}, zap.NewNop()),
		AI:        ai.NewEngine(reg, catalog.Opponents(), 1, zap.NewNop()),
		Rooms:     r,
		Transport: r,
	}, session.Config{}, zap.NewNop())
	t.Cleanup(m.Close)
	return m, r
}

// startGame creates a multiplayer tic-tac-toe room and delivers its
// game_started message.
func startGame(t *testing.T, m *session.Manager, r *relay) model.Session {
	t.Helper()
	s, err := m.Create(context.Background(), tictactoe.Name, model.ModeMultiplayer, alice)
	require.NoError(t, err)
	gs, err := tictactoe.TicTacToe{}.NewState([]string{"alice", "bob"}, nil)
	require.NoError(t, err)
	payload, err := game.Encode(gs)
	require.NoError(t, err)
	r.handler(protocol.Envelope{
		Type:    protocol.TypeGameStarted,
		RoomID:  s.ID,
		Variant: tictactoe.Name,
		State: &protocol.RoomState{
			Participants: []model.Player{alice, {ID: "bob", DisplayName: "Bob"}},
			Status:       model.StatusActive,
			Turn:         gs.Turn(),
			Payload:      payload,
		},
	})
	s, err = m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, s.Status)
	return s
}

func activeIDs(t *testing.T, m *session.Manager) []string {
	t.Helper()
	var ids []string
	for s, err := range m.List(context.Background(), session.Filter{Status: model.StatusActive}) {
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	return ids
}

func waitOffer(t *testing.T, p *Policy) Offer {
	t.Helper()
	select {
	case o := <-p.Offers():
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no offer published")
		return Offer{}
	}
}

func TestGraceExpiryAbandonsSessions(t *testing.T) {
	m, r := newManager(t)
	s := startGame(t, m, r)
	p := New(m, Config{Grace: 20 * time.Millisecond}, zap.NewNop())

	events := make(chan transport.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, events)

	events <- transport.Event{State: transport.StateDisconnected}
	o := waitOffer(t, p)
	assert.Equal(t, Offer{Variant: tictactoe.Name, Player: alice, From: s.ID, Reason: model.EndConnectionLost}, o)
	assert.Equal(t, PhaseOffline, p.Phase())

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, model.OutcomeAbandoned, got.Outcome.Kind)
	assert.Equal(t, model.EndConnectionLost, got.EndReason)
	assert.Equal(t, s.Payload, got.Payload, "payload is left as last received")
	assert.NotContains(t, activeIDs(t, m), s.ID)

	local, err := p.Accept(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, model.ModeLocal, local.Mode)
	assert.Equal(t, model.StatusActive, local.Status)
	assert.Equal(t, tictactoe.Name, local.Variant)
	assert.NotEqual(t, s.ID, local.ID)
	assert.Contains(t, activeIDs(t, m), local.ID)
}

func TestReconnectWithinGrace(t *testing.T) {
	m, r := newManager(t)
	s := startGame(t, m, r)
	p := New(m, Config{Grace: 100 * time.Millisecond}, zap.NewNop())

	p.Observe(transport.Event{State: transport.StateDisconnected})
	assert.Equal(t, PhaseDegraded, p.Phase())
	p.Observe(transport.Event{State: transport.StateConnecting, Attempt: 1})
	assert.Equal(t, PhaseDegraded, p.Phase())
	p.Observe(transport.Event{State: transport.StateConnected})
	assert.Equal(t, PhaseOnline, p.Phase())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, PhaseOnline, p.Phase())
	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Empty(t, p.Offers())
}

func TestRepeatedDisconnectsKeepFirstDeadline(t *testing.T) {
	m, r := newManager(t)
	startGame(t, m, r)
	p := New(m, Config{Grace: 50 * time.Millisecond}, zap.NewNop())

	p.Observe(transport.Event{State: transport.StateDisconnected, Attempt: 1})
	time.Sleep(30 * time.Millisecond)
	p.Observe(transport.Event{State: transport.StateDisconnected, Attempt: 2})
	waitOffer(t, p)
	assert.Equal(t, PhaseOffline, p.Phase())
}

func TestRequestOffline(t *testing.T) {
	m, r := newManager(t)
	first := startGame(t, m, r)
	second := startGame(t, m, r)
	local, err := m.Create(context.Background(), tictactoe.Name, model.ModeLocal, alice)
	require.NoError(t, err)
	p := New(m, Config{}, zap.NewNop())

	p.RequestOffline()
	assert.Equal(t, PhaseOffline, p.Phase())
	from := map[string]bool{}
	for range 2 {
		o := waitOffer(t, p)
		assert.Equal(t, model.EndOfflineRequested, o.Reason)
		from[o.From] = true
	}
	assert.Equal(t, map[string]bool{first.ID: true, second.ID: true}, from)
	assert.Equal(t, []string{local.ID}, activeIDs(t, m), "local sessions are untouched")

	p.Observe(transport.Event{State: transport.StateConnected})
	assert.Equal(t, PhaseOnline, p.Phase())
}

func TestRunStopsWhenEventsClose(t *testing.T) {
	m, _ := newManager(t)
	p := New(m, Config{}, zap.NewNop())
	events := make(chan transport.Event)
	close(events)
	assert.NoError(t, p.Run(context.Background(), events))
	assert.Equal(t, PhaseOffline, p.Phase())
}

func TestTransportCloseEndsSessions(t *testing.T) {
	m, r := newManager(t)
	s := startGame(t, m, r)
	p := New(m, Config{Grace: time.Minute}, zap.NewNop())
	ad := transport.New(transport.Config{URL: "ws://127.0.0.1:1/ws"}, zap.NewNop())

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background(), ad.Events()) }()
	require.NoError(t, ad.Close())

	o := waitOffer(t, p)
	assert.Equal(t, s.ID, o.From)
	assert.Equal(t, model.EndConnectionLost, o.Reason)
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the transport closed")
	}
	assert.Equal(t, PhaseOffline, p.Phase())

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, model.OutcomeAbandoned, got.Outcome.Kind)
	assert.Equal(t, model.EndConnectionLost, got.EndReason)
}

// stalledMove starts a move whose envelope never reaches the relay and
// returns the channel its error arrives on.
func stalledMove(t *testing.T, m *session.Manager, r *relay, id string) <-chan error {
	t.Helper()
	r.stall = make(chan struct{}, 1)
	errc := make(chan error, 1)
	go func() {
		_, err := m.Move(context.Background(), id, session.Intent{PlayerID: alice.ID, Move: tictactoe.Mark(4)})
		errc <- err
	}()
	select {
	case <-r.stall:
	case <-time.After(5 * time.Second):
		t.Fatal("move never reached the transport")
	}
	return errc
}

func moveResult(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("move still blocked after the session ended")
		return nil
	}
}

func TestRequestOfflineDuringStalledMove(t *testing.T) {
	m, r := newManager(t)
	s := startGame(t, m, r)
	p := New(m, Config{}, zap.NewNop())
	errc := stalledMove(t, m, r, s.ID)

	done := make(chan struct{})
	go func() {
		p.RequestOffline()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestOffline blocked behind the pending move")
	}
	assert.ErrorIs(t, moveResult(t, errc), gameerr.ErrConnectionLost)

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, model.OutcomeAbandoned, got.Outcome.Kind)
	assert.Equal(t, model.EndOfflineRequested, got.EndReason)
	assert.Equal(t, s.Payload, got.Payload, "the stalled move was never applied")
	assert.Equal(t, s.ID, waitOffer(t, p).From)
}

func TestGraceExpiryDuringStalledMove(t *testing.T) {
	m, r := newManager(t)
	s := startGame(t, m, r)
	p := New(m, Config{Grace: 20 * time.Millisecond}, zap.NewNop())
	errc := stalledMove(t, m, r, s.ID)

	p.Observe(transport.Event{State: transport.StateDisconnected})
	assert.ErrorIs(t, moveResult(t, errc), gameerr.ErrConnectionLost)
	o := waitOffer(t, p)
	assert.Equal(t, model.EndConnectionLost, o.Reason)
	assert.Equal(t, PhaseOffline, p.Phase())

	got, err := m.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, model.EndConnectionLost, got.EndReason)

	_, err = m.Move(context.Background(), s.ID, session.Intent{PlayerID: alice.ID, Move: tictactoe.Mark(4)})
	assert.ErrorIs(t, err, gameerr.ErrSessionFinished)
}
