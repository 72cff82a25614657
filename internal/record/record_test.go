package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamecore/internal/catalog"
	"gamecore/internal/game"
	"gamecore/internal/game/tictactoe"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Store) {
	t.Helper()
	kv, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return New(kv, catalog.Registry(), Config{RetryInitial: time.Millisecond}, zap.NewNop()), kv
}

func localSession(t *testing.T, id string, cells ...int) *model.Session {
	t.Helper()
	gs, err := tictactoe.TicTacToe{}.NewState([]string{"human", "ai-1"}, nil)
	require.NoError(t, err)
	for _, c := range cells {
		require.NoError(t, gs.Apply(gs.Turn(), tictactoe.Mark(c)))
	}
	payload, err := game.Encode(gs)
	require.NoError(t, err)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:      id,
		Variant: tictactoe.Name,
		Mode:    model.ModeLocal,
		Status:  model.StatusActive,
		Participants: []model.Player{
			{ID: "human", DisplayName: "Human"},
			{ID: "ai-1", DisplayName: "Computer", IsAI: true},
		},
		Turn:      gs.Turn(),
		Payload:   payload,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	want := localSession(t, "s1", 0, 4)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	metas, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, Meta{ID: "s1", Variant: tictactoe.Name, Status: model.StatusActive, CreatedAt: want.CreatedAt, UpdatedAt: want.UpdatedAt}, metas[0])
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, localSession(t, "s1")))
	next := localSession(t, "s1", 4)
	next.UpdatedAt = next.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, next, got)
	metas, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestDeleteThenLoadIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, localSession(t, "s1")))
	require.NoError(t, s.Save(ctx, localSession(t, "s2")))

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err := s.Load(ctx, "s1")
	assert.ErrorIs(t, err, gameerr.ErrNotFound)

	metas, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "s2", metas[0].ID)

	assert.NoError(t, s.Delete(ctx, "never-saved"))
}

func TestSaveRejectsInvalidSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mp := localSession(t, "mp")
	mp.Mode = model.ModeMultiplayer
	mp.Participants[1].IsAI = false
	assert.ErrorIs(t, s.Save(ctx, mp), gameerr.ErrPersistence)

	bad := localSession(t, "bad")
	bad.Turn = "stranger"
	assert.ErrorIs(t, s.Save(ctx, bad), gameerr.ErrPersistence)
}

func TestCorruptRecordIsQuarantined(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, localSession(t, "good")))
	require.NoError(t, s.Save(ctx, localSession(t, "broken")))

	corrupt := map[string]string{
		"broken":  `{"v":1,"session":{"id":"broken","variant":"tictactoe","mode":"local","status":"active"`,
		"version": `{"v":99,"session":{}}`,
	}
	for id, raw := range corrupt {
		require.NoError(t, kv.Update(ctx, func(tx *storage.Tx) error {
			return tx.Put(DefaultNamespace+"session/"+id, []byte(raw))
		}))
		_, err := s.Load(ctx, id)
		assert.ErrorIs(t, err, gameerr.ErrStateCorruption, id)
	}

	q, err := s.Quarantined(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"broken", "version"}, q)

	metas, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "good", metas[0].ID)

	// still there for inspection
	_, err = kv.Get(ctx, DefaultNamespace+"session/broken")
	assert.NoError(t, err)
}

func TestBadPayloadIsCorruption(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	sess := localSession(t, "s1")
	sess.Payload = []byte(`{"players":["human","ai-1"],"board":[5,0,0,0,0,0,0,0,0],"winner":-1}`)
	// bypass Save, which would accept the structurally valid session
	require.NoError(t, kv.Update(ctx, func(tx *storage.Tx) error {
		return writeJSON(tx, DefaultNamespace+"session/s1", envelope{V: Version, Session: sess})
	}))
	_, err := s.Load(ctx, "s1")
	assert.ErrorIs(t, err, gameerr.ErrStateCorruption)
}

func TestNamespacesAreIsolated(t *testing.T) {
	kv, err := storage.New(":memory:")
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()
	a := New(kv, catalog.Registry(), Config{Namespace: "a/"}, zap.NewNop())
	b := New(kv, catalog.Registry(), Config{Namespace: "b/"}, zap.NewNop())

	require.NoError(t, kv.Update(ctx, func(tx *storage.Tx) error { return tx.Put("unrelated", []byte("keep")) }))
	require.NoError(t, a.Save(ctx, localSession(t, "s1")))

	_, err = b.Load(ctx, "s1")
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
	metas, err := b.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)

	require.NoError(t, a.Delete(ctx, "s1"))
	v, err := kv.Get(ctx, "unrelated")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(v))
}

func TestClosedDatabaseIsPersistenceError(t *testing.T) {
	s, kv := newTestStore(t)
	require.NoError(t, kv.Close())
	err := s.Save(context.Background(), localSession(t, "s1"))
	assert.ErrorIs(t, err, gameerr.ErrPersistence)
	assert.True(t, gameerr.Retryable(err))
}
