// Package session orchestrates game sessions. Local sessions are played
// against the AI and persisted after every change; multiplayer sessions
// forward intents to the relay and only change when an authoritative update
// arrives.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/protocol"
	"gamecore/internal/record"
)

// Store persists local sessions.
type Store interface {
	Save(ctx context.Context, s *model.Session) error
	Load(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]record.Meta, error)
}

// Decider picks AI moves.
type Decider interface {
	Decide(variant string, payload json.RawMessage, playerID string) (game.Move, error)
}

// Transport carries multiplayer messages.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Subscribe(h func(protocol.Envelope)) func()
}

// Rooms is the room lifecycle API of the relay backend.
type Rooms interface {
	CreateRoom(ctx context.Context, variant string, capacity int) (protocol.RoomDescriptor, error)
	JoinRoom(ctx context.Context, roomID, displayName string) (protocol.Membership, error)
	StartRoom(ctx context.Context, roomID string) error
	GetRoom(ctx context.Context, roomID string) (protocol.RoomDescriptor, error)
}

// Deps are the collaborators of a Manager. Rooms and Transport may be nil,
// in which case multiplayer operations fail with ErrConnectionLost.
type Deps struct {
	Variants  *game.Registry
	Store     Store
	AI        Decider
	Rooms     Rooms
	Transport Transport
	// Notify, if set, is called with every committed change. It runs with
	// the session locked and must not call back into the Manager.
	Notify func(model.Session)
}

// Config tunes a Manager.
type Config struct {
	ThinkDelay    time.Duration // pause before each AI move
	AIDisplayName string
	Seed          uint64 // seeds new game states; 0 picks a random seed
	SendTimeout   time.Duration // bound on each envelope sent to the relay
}

// Intent is a move request from a participant.
type Intent struct {
	PlayerID string
	Move     game.Move
}

// Filter selects sessions in List. Zero fields match everything.
type Filter struct {
	Mode    model.Mode
	Status  model.Status
	Variant string
}

func (f Filter) match(mode model.Mode, status model.Status, variant string) bool {
	return (f.Mode == "" || f.Mode == mode) &&
		(f.Status == "" || f.Status == status) &&
		(f.Variant == "" || f.Variant == variant)
}

// Abandoned reports a multiplayer session ended by AbandonMultiplayer.
type Abandoned struct {
	Session model.Session
	Local   model.Player
}

// Manager manages all sessions of this process.
type Manager struct {
	deps Deps
	cfg  Config
	reg  *Registry
	log  *zap.Logger
	now  func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	unsubscribe func()
}

// NewManager creates a session manager and subscribes it to the transport.
func NewManager(deps Deps, cfg Config, log *zap.Logger) *Manager {
	if cfg.AIDisplayName == "" {
		cfg.AIDisplayName = "Computer"
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	m := &Manager{
		deps: deps,
		cfg:  cfg,
		reg:  NewRegistry(),
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
		rng:  game.NewRand(seed),
	}
	if deps.Transport != nil {
		m.unsubscribe = deps.Transport.Subscribe(m.HandleMessage)
	}
	return m
}

// Registry exposes the live session index.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// Close detaches from the transport and cancels pending AI turns.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	for _, e := range m.reg.all() {
		e.interrupt()
	}
}

// Create starts a new session of variant. Local sessions seat initiator
// against one AI player and are active immediately; multiplayer sessions
// open a room and wait for players.
func (m *Manager) Create(ctx context.Context, variant string, mode model.Mode, initiator model.Player) (model.Session, error) {
	v, err := m.deps.Variants.Lookup(variant)
	if err != nil {
		return model.Session{}, err
	}
	if initiator.ID == "" || initiator.IsAI {
		return model.Session{}, gameerr.Newf(gameerr.ErrIllegalMove, "create", "", "initiator must be a human player with an id")
	}
	switch mode {
	case model.ModeLocal:
		return m.createLocal(ctx, v, initiator)
	case model.ModeMultiplayer:
		return m.createRemote(ctx, v, initiator)
	default:
		return model.Session{}, fmt.Errorf("unknown mode %q", mode)
	}
}

func (m *Manager) createLocal(ctx context.Context, v game.Variant, human model.Player) (model.Session, error) {
	info := v.Info()
	if info.MinPlayers > 2 || info.MaxPlayers < 2 {
		return model.Session{}, gameerr.Newf(gameerr.ErrUnsupportedVariant, "create", "", "%s cannot seat one player against the AI", info.Name)
	}
	ai := model.Player{ID: "ai-" + uuid.NewString()[:8], DisplayName: m.cfg.AIDisplayName, IsAI: true}

	m.rngMu.Lock()
	st, err := v.NewState([]string{human.ID, ai.ID}, m.rng)
	m.rngMu.Unlock()
	if err != nil {
		return model.Session{}, fmt.Errorf("new %s state: %w", info.Name, err)
	}
	payload, err := game.Encode(st)
	if err != nil {
		return model.Session{}, fmt.Errorf("encode %s state: %w", info.Name, err)
	}

	now := m.now()
	s := model.Session{
		ID:           uuid.NewString(),
		Variant:      info.Name,
		Mode:         model.ModeLocal,
		Status:       model.StatusActive,
		Participants: []model.Player{human, ai},
		Turn:         st.Turn(),
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.deps.Store.Save(ctx, &s); err != nil {
		return model.Session{}, err
	}
	e := newEntry(s, human)
	m.reg.add(s.ID, e)
	m.log.Info("session created", zap.String("id", s.ID), zap.String("variant", s.Variant), zap.String("mode", string(s.Mode)))
	m.notify(s)
	return s.Clone(), nil
}

func (m *Manager) createRemote(ctx context.Context, v game.Variant, initiator model.Player) (model.Session, error) {
	if err := m.remoteReady("create"); err != nil {
		return model.Session{}, err
	}
	info := v.Info()
	room, err := m.deps.Rooms.CreateRoom(ctx, info.Name, info.MaxPlayers)
	if err != nil {
		return model.Session{}, err
	}
	return m.attach(ctx, room, initiator)
}

// Join takes a seat in an existing multiplayer room.
func (m *Manager) Join(ctx context.Context, roomID string, player model.Player) (model.Session, error) {
	if err := m.remoteReady("join"); err != nil {
		return model.Session{}, err
	}
	if s, ok := m.reg.Get(roomID); ok {
		if _, seated := s.Participant(player.ID); seated {
			return s, nil
		}
	}
	if _, err := m.deps.Rooms.JoinRoom(ctx, roomID, player.DisplayName); err != nil {
		return model.Session{}, err
	}
	room, err := m.deps.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return model.Session{}, err
	}
	return m.attach(ctx, room, player)
}

// attach registers a waiting multiplayer session for room and announces
// the local player on the duplex channel.
func (m *Manager) attach(ctx context.Context, room protocol.RoomDescriptor, local model.Player) (model.Session, error) {
	participants := room.Participants
	if len(participants) == 0 {
		participants = []model.Player{local}
	}
	now := m.now()
	s := model.Session{
		ID:           room.ID,
		Variant:      room.Variant,
		Mode:         model.ModeMultiplayer,
		Status:       model.StatusWaiting,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e, added := m.reg.add(s.ID, newEntry(s, local))
	e.mu.Lock()
	sendCtx, done := m.sendContext(ctx, e)
	e.mu.Unlock()
	err := m.send(ctx, sendCtx, "join", protocol.Envelope{Type: protocol.TypeJoinRoom, RoomID: room.ID, PlayerID: local.ID})
	done()
	if err != nil {
		if added {
			m.reg.remove(s.ID)
		}
		return model.Session{}, err
	}
	m.log.Info("joined room", zap.String("room", room.ID), zap.String("variant", room.Variant), zap.String("player", local.ID))
	snap := e.snapshot()
	if added {
		m.notify(snap)
	}
	return snap, nil
}

// Start asks the relay to begin a waiting multiplayer session. The dealt
// state arrives as a game_started message.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, err := m.acquire(id, "start")
	if err != nil {
		return err
	}
	defer e.busy.Store(false)

	s := e.snapshot()
	switch {
	case s.Mode != model.ModeMultiplayer:
		return gameerr.Newf(gameerr.ErrIllegalMove, "start", id, "local sessions start active")
	case s.Finished():
		return gameerr.New(gameerr.ErrSessionFinished, "start", id, nil)
	case s.Status != model.StatusWaiting:
		return gameerr.Newf(gameerr.ErrIllegalMove, "start", id, "session already started")
	}
	if err := m.remoteReady("start"); err != nil {
		return err
	}
	return m.deps.Rooms.StartRoom(ctx, id)
}

// Move applies a participant's move. Local sessions then play the AI's
// reply, after the configured think delay, before returning.
func (m *Manager) Move(ctx context.Context, id string, in Intent) (model.Session, error) {
	e, err := m.acquire(id, "move")
	if err != nil {
		return model.Session{}, err
	}
	defer e.busy.Store(false)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Finished() {
		return e.sess.Clone(), gameerr.New(gameerr.ErrSessionFinished, "move", id, nil)
	}
	p, ok := e.sess.Participant(in.PlayerID)
	if !ok {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "move", id, "%s is not seated", in.PlayerID)
	}
	if p.IsAI {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "move", id, "%s is an AI seat", in.PlayerID)
	}

	if e.sess.Mode == model.ModeMultiplayer {
		return m.moveRemote(ctx, e, in)
	}
	return m.moveLocal(ctx, e, in)
}

func (m *Manager) moveLocal(ctx context.Context, e *entry, in Intent) (model.Session, error) {
	// An AI turn left pending by a failed save or a restart goes first.
	if err := m.playAI(ctx, e, false); err != nil {
		return e.sess.Clone(), err
	}
	if e.sess.Finished() {
		return e.sess.Clone(), gameerr.New(gameerr.ErrSessionFinished, "move", e.sess.ID, nil)
	}
	if e.sess.Turn != in.PlayerID {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "move", e.sess.ID, "not %s's turn", in.PlayerID)
	}

	next, err := m.apply(e.sess, in.PlayerID, in.Move)
	if err != nil {
		return e.sess.Clone(), err
	}
	if err := m.commit(ctx, e, next); err != nil {
		return e.sess.Clone(), err
	}
	if err := m.playAI(ctx, e, true); err != nil {
		return e.sess.Clone(), err
	}
	return e.sess.Clone(), nil
}

// playAI makes the AI's move if it is the AI's turn. With think set it
// first waits the think delay, which Leave or ctx can cancel; a cancelled
// turn stays pending. Caller holds e.mu.
func (m *Manager) playAI(ctx context.Context, e *entry, think bool) error {
	ai, ok := e.sess.AI()
	if !ok || e.sess.Finished() || e.sess.Turn != ai.ID {
		return nil
	}
	if think && m.cfg.ThinkDelay > 0 {
		if e.leaving.Load() {
			return nil
		}
		thinkCtx, cancel := context.WithCancel(ctx)
		e.setCancel(cancel)
		if e.leaving.Load() {
			cancel()
		}
		timer := time.NewTimer(m.cfg.ThinkDelay)
		select {
		case <-timer.C:
		case <-thinkCtx.Done():
			timer.Stop()
		}
		e.setCancel(nil)
		cancel()
		if thinkCtx.Err() != nil {
			m.log.Debug("ai turn cancelled", zap.String("id", e.sess.ID))
			return nil
		}
	}

	mv, err := m.deps.AI.Decide(e.sess.Variant, e.sess.Payload, ai.ID)
	if err != nil {
		return err
	}
	if mv.IsPass() {
		m.log.Warn("ai passed on its own turn", zap.String("id", e.sess.ID), zap.String("variant", e.sess.Variant))
		return nil
	}
	next, err := m.apply(e.sess, ai.ID, mv)
	if err != nil {
		return err
	}
	return m.commit(ctx, e, next)
}

func (m *Manager) moveRemote(ctx context.Context, e *entry, in Intent) (model.Session, error) {
	if e.sess.Status != model.StatusActive {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "move", e.sess.ID, "session has not started")
	}
	if e.sess.Turn != in.PlayerID {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "move", e.sess.ID, "not %s's turn", in.PlayerID)
	}
	// Validate on a scratch copy; only the relay changes the session.
	if _, err := m.apply(e.sess, in.PlayerID, in.Move); err != nil {
		return e.sess.Clone(), err
	}
	mv := in.Move
	env := protocol.Envelope{
		Type:     protocol.TypeGameMove,
		RoomID:   e.sess.ID,
		PlayerID: in.PlayerID,
		Move:     &mv,
	}

	// Updates and AbandonMultiplayer need e.mu while the envelope is in
	// flight; busy still keeps other intents out.
	sendCtx, done := m.sendContext(ctx, e)
	e.mu.Unlock()
	err := m.send(ctx, sendCtx, "move", env)
	done()
	e.mu.Lock()
	return e.sess.Clone(), err
}

// sendContext bounds a relay send by the send timeout and registers it on e,
// so interrupting the entry ends the wait early. Caller holds e.mu.
func (m *Manager) sendContext(ctx context.Context, e *entry) (context.Context, func()) {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	e.setCancel(cancel)
	return sendCtx, func() {
		e.setCancel(nil)
		cancel()
	}
}

// send delivers env on sendCtx. Unless ctx itself is done, failures are
// reported as ErrConnectionLost.
func (m *Manager) send(ctx, sendCtx context.Context, op string, env protocol.Envelope) error {
	err := m.deps.Transport.Send(sendCtx, env)
	if err == nil || ctx.Err() != nil || errors.Is(err, gameerr.ErrConnectionLost) {
		return err
	}
	return gameerr.New(gameerr.ErrConnectionLost, op, env.RoomID, err)
}

// apply returns s advanced by playerID's move without touching s.
func (m *Manager) apply(s model.Session, playerID string, mv game.Move) (model.Session, error) {
	v, err := m.deps.Variants.Lookup(s.Variant)
	if err != nil {
		return model.Session{}, err
	}
	st, err := v.Decode(s.Payload)
	if err != nil {
		return model.Session{}, gameerr.New(gameerr.ErrStateCorruption, "move", s.ID, err)
	}
	if err := st.Apply(playerID, mv); err != nil {
		return model.Session{}, fmt.Errorf("move %s: %w", s.ID, err)
	}
	payload, err := game.Encode(st)
	if err != nil {
		return model.Session{}, fmt.Errorf("encode %s state: %w", s.Variant, err)
	}

	next := s.Clone()
	next.Payload = payload
	next.Turn = st.Turn()
	next.UpdatedAt = m.stamp(s)
	if res, done := st.Result(); done {
		next.Status = model.StatusFinished
		next.Turn = ""
		next.EndReason = model.EndCompleted
		if res.Draw {
			next.Outcome = &model.Outcome{Kind: model.OutcomeDraw}
		} else {
			next.Outcome = &model.Outcome{Kind: model.OutcomeWinner, Winner: res.Winner}
		}
	}
	return next, nil
}

// stamp returns a modification time not earlier than s.UpdatedAt.
func (m *Manager) stamp(s model.Session) time.Time {
	now := m.now()
	if now.Before(s.UpdatedAt) {
		return s.UpdatedAt
	}
	return now
}

// commit makes next the session's state. Local sessions are saved first;
// if the save fails the entry keeps its previous state. Caller holds e.mu.
func (m *Manager) commit(ctx context.Context, e *entry, next model.Session) error {
	if next.Mode == model.ModeLocal {
		if err := m.deps.Store.Save(ctx, &next); err != nil {
			m.log.Error("save failed, keeping previous state", zap.String("id", next.ID), zap.Error(err))
			return err
		}
	}
	e.sess = next
	e.publish()
	if next.Finished() {
		m.log.Info("session finished",
			zap.String("id", next.ID),
			zap.String("outcome", string(next.Outcome.Kind)),
			zap.String("winner", next.Outcome.Winner),
			zap.String("reason", string(next.EndReason)))
	}
	m.notify(next)
	return nil
}

// Leave removes participantID from a session. An active session ends as
// abandoned; a waiting one loses the seat and ends once empty. Leave is
// never rejected as busy: it interrupts an AI think timer or relay send
// and waits.
func (m *Manager) Leave(ctx context.Context, id, participantID string) (model.Session, error) {
	e, ok := m.reg.entry(id)
	if !ok {
		return model.Session{}, gameerr.New(gameerr.ErrNotFound, "leave", id, nil)
	}
	e.leaving.Store(true)
	defer e.leaving.Store(false)
	e.interrupt()
	e.mu.Lock()
	next, err := m.leave(ctx, e, participantID)
	if err != nil || next.Mode != model.ModeMultiplayer || m.deps.Transport == nil {
		e.mu.Unlock()
		return next, err
	}
	sendCtx, done := m.sendContext(ctx, e)
	e.mu.Unlock()
	defer done()

	// The seat is already given up locally; telling the relay is best effort.
	env := protocol.Envelope{Type: protocol.TypeLeaveRoom, RoomID: id, PlayerID: participantID}
	if err := m.send(ctx, sendCtx, "leave", env); err != nil {
		m.log.Warn("leave_room not delivered", zap.String("room", id), zap.Error(err))
	}
	return next, nil
}

// leave commits the session without participantID. Caller holds e.mu.
func (m *Manager) leave(ctx context.Context, e *entry, participantID string) (model.Session, error) {
	id := e.sess.ID
	if e.sess.Finished() {
		return e.sess.Clone(), gameerr.New(gameerr.ErrSessionFinished, "leave", id, nil)
	}
	if _, seated := e.sess.Participant(participantID); !seated {
		return e.sess.Clone(), gameerr.Newf(gameerr.ErrIllegalMove, "leave", id, "%s is not seated", participantID)
	}

	next := e.sess.Clone()
	next.UpdatedAt = m.stamp(e.sess)
	switch next.Status {
	case model.StatusActive:
		finish(&next, model.OutcomeAbandoned, model.EndLeft)
	case model.StatusWaiting:
		kept := next.Participants[:0]
		for _, p := range next.Participants {
			if p.ID != participantID {
				kept = append(kept, p)
			}
		}
		next.Participants = kept
		if len(kept) == 0 {
			finish(&next, model.OutcomeAbandoned, model.EndLeft)
		}
	}

	if err := m.commit(ctx, e, next); err != nil {
		return e.sess.Clone(), err
	}
	return next.Clone(), nil
}

func finish(s *model.Session, kind model.OutcomeKind, reason model.EndReason) {
	s.Status = model.StatusFinished
	s.Turn = ""
	s.Outcome = &model.Outcome{Kind: kind}
	s.EndReason = reason
}

// List yields sessions matching f: live ones first, then persisted local
// sessions not in memory. Each range re-reads both sources.
func (m *Manager) List(ctx context.Context, f Filter) iter.Seq2[model.Session, error] {
	return func(yield func(model.Session, error) bool) {
		seen := make(map[string]bool)
		for _, s := range m.reg.List() {
			seen[s.ID] = true
			if f.match(s.Mode, s.Status, s.Variant) && !yield(s, nil) {
				return
			}
		}
		if m.deps.Store == nil || (f.Mode != "" && f.Mode != model.ModeLocal) {
			return
		}
		metas, err := m.deps.Store.ListAll(ctx)
		if err != nil {
			yield(model.Session{}, err)
			return
		}
		for _, meta := range metas {
			if seen[meta.ID] || !f.match(model.ModeLocal, meta.Status, meta.Variant) {
				continue
			}
			s, err := m.deps.Store.Load(ctx, meta.ID)
			if errors.Is(err, gameerr.ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield(model.Session{}, err) {
					return
				}
				continue
			}
			if !f.match(s.Mode, s.Status, s.Variant) {
				continue
			}
			if !yield(*s, nil) {
				return
			}
		}
	}
}

// Get returns a live session or, failing that, a persisted one.
func (m *Manager) Get(ctx context.Context, id string) (model.Session, error) {
	if s, ok := m.reg.Get(id); ok {
		return s, nil
	}
	if m.deps.Store == nil {
		return model.Session{}, gameerr.New(gameerr.ErrNotFound, "get", id, nil)
	}
	s, err := m.deps.Store.Load(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	return *s, nil
}

// Delete discards a local session from memory and storage. Finished
// multiplayer sessions are only dropped from memory.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, ok := m.reg.entry(id)
	if !ok {
		return m.deps.Store.Delete(ctx, id)
	}
	if !e.busy.CompareAndSwap(false, true) {
		return gameerr.New(gameerr.ErrSessionBusy, "delete", id, nil)
	}
	defer e.busy.Store(false)
	e.interrupt()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Mode == model.ModeMultiplayer {
		if !e.sess.Finished() {
			return gameerr.Newf(gameerr.ErrIllegalMove, "delete", id, "leave a multiplayer session before deleting it")
		}
		m.reg.remove(id)
		return nil
	}
	if err := m.deps.Store.Delete(ctx, id); err != nil {
		return err
	}
	m.reg.remove(id)
	m.log.Info("session deleted", zap.String("id", id))
	return nil
}

// Restore loads unfinished local sessions from storage. Records that fail
// to load are skipped; corrupt ones are quarantined by the store.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	metas, err := m.deps.Store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, meta := range metas {
		if meta.Status == model.StatusFinished {
			continue
		}
		if _, ok := m.reg.entry(meta.ID); ok {
			continue
		}
		s, err := m.deps.Store.Load(ctx, meta.ID)
		if err != nil {
			m.log.Warn("skipping session on restore", zap.String("id", meta.ID), zap.Error(err))
			continue
		}
		var human model.Player
		for _, p := range s.Participants {
			if !p.IsAI {
				human = p
			}
		}
		if _, added := m.reg.add(s.ID, newEntry(*s, human)); added {
			n++
		}
	}
	m.log.Info("restored sessions", zap.Int("count", n))
	return n, nil
}

// AbandonMultiplayer ends every unfinished multiplayer session with reason.
// Payloads are left as last received.
func (m *Manager) AbandonMultiplayer(ctx context.Context, reason model.EndReason) []Abandoned {
	var out []Abandoned
	for _, e := range m.reg.all() {
		if e.snapshot().Mode != model.ModeMultiplayer {
			continue
		}
		e.interrupt()
		e.mu.Lock()
		if !e.sess.Finished() {
			next := e.sess.Clone()
			next.UpdatedAt = m.stamp(e.sess)
			finish(&next, model.OutcomeAbandoned, reason)
			if err := m.commit(ctx, e, next); err == nil {
				out = append(out, Abandoned{Session: next.Clone(), Local: e.local})
			}
		}
		e.mu.Unlock()
		// ends a relay send still waiting on this session
		e.interrupt()
	}
	return out
}

// HandleMessage applies an authoritative update from the relay. Messages
// for unknown or finished sessions are ignored.
func (m *Manager) HandleMessage(env protocol.Envelope) {
	e, ok := m.reg.entry(env.RoomID)
	if !ok {
		m.log.Debug("message for unknown room", zap.String("type", env.Type), zap.String("room", env.RoomID))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Mode != model.ModeMultiplayer {
		return
	}
	if env.Type == protocol.TypeError {
		m.log.Warn("relay rejected a request", zap.String("room", env.RoomID), zap.String("error", env.Error))
		return
	}
	if e.sess.Finished() {
		m.log.Debug("ignoring update for finished session", zap.String("type", env.Type), zap.String("room", env.RoomID))
		return
	}

	next := e.sess.Clone()
	next.UpdatedAt = m.stamp(e.sess)
	if env.Variant != "" {
		next.Variant = env.Variant
	}
	if st := env.State; st != nil {
		if len(st.Participants) > 0 {
			next.Participants = st.Participants
		}
		if st.Status != "" {
			next.Status = st.Status
		}
		next.Turn = st.Turn
		if len(st.Payload) > 0 {
			next.Payload = st.Payload
		}
		if st.Outcome != nil {
			next.Outcome = st.Outcome
		}
	}

	switch env.Type {
	case protocol.TypeGameStarted:
		if next.Status == model.StatusWaiting {
			next.Status = model.StatusActive
		}
	case protocol.TypeGameEnded:
		if env.Outcome != nil {
			next.Outcome = env.Outcome
		}
		next.Status = model.StatusFinished
	case protocol.TypeGameStateUpdate:
	default:
		return
	}
	if next.Status == model.StatusFinished {
		next.Turn = ""
		if next.Outcome == nil {
			next.Outcome = &model.Outcome{Kind: model.OutcomeAbandoned}
		}
		next.EndReason = model.EndCompleted
		if next.Outcome.Kind == model.OutcomeAbandoned {
			next.EndReason = model.EndRemote
		}
	} else {
		next.Outcome = nil
	}

	if err := next.Validate(); err != nil {
		m.log.Warn("dropping invalid update", zap.String("type", env.Type), zap.String("room", env.RoomID), zap.Error(err))
		return
	}
	if err := m.commit(context.Background(), e, next); err != nil {
		m.log.Error("commit update", zap.String("room", env.RoomID), zap.Error(err))
	}
}

// acquire looks up id and marks it busy.
func (m *Manager) acquire(id, op string) (*entry, error) {
	e, ok := m.reg.entry(id)
	if !ok {
		return nil, gameerr.New(gameerr.ErrNotFound, op, id, nil)
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, gameerr.New(gameerr.ErrSessionBusy, op, id, nil)
	}
	return e, nil
}

func (m *Manager) remoteReady(op string) error {
	if m.deps.Rooms == nil || m.deps.Transport == nil {
		return gameerr.Newf(gameerr.ErrConnectionLost, op, "", "multiplayer is not configured")
	}
	return nil
}

func (m *Manager) notify(s model.Session) {
	if m.deps.Notify != nil {
		m.deps.Notify(s.Clone())
	}
}
