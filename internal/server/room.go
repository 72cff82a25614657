package server

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/protocol"
)

// Room is one multiplayer game hosted by the relay. Moves are applied here
// and the result broadcast to every connected seat.
type Room struct {
	mu        sync.RWMutex
	id        string
	variant   game.Variant
	capacity  int
	hostID    string
	status    model.Status
	players   []model.Player // seat order
	state     game.State
	outcome   *model.Outcome
	conns     map[string]*client
	createdAt time.Time
	updatedAt time.Time
}

func newRoom(id string, v game.Variant, capacity int) *Room {
	now := time.Now().UTC()
	return &Room{
		id:        id,
		variant:   v,
		capacity:  capacity,
		status:    model.StatusWaiting,
		conns:     make(map[string]*client),
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Join seats p and returns the seat index. Joining twice returns the
// existing seat.
func (r *Room) Join(p model.Player) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.seatLocked(p.ID); i >= 0 {
		return i, nil
	}
	switch r.status {
	case model.StatusFinished:
		return -1, gameerr.New(gameerr.ErrSessionFinished, "join", r.id, nil)
	case model.StatusActive:
		return -1, gameerr.Newf(gameerr.ErrIllegalMove, "join", r.id, "room is not accepting players")
	}
	if len(r.players) >= r.capacity {
		return -1, gameerr.Newf(gameerr.ErrIllegalMove, "join", r.id, "room is full")
	}
	r.players = append(r.players, p)
	if r.hostID == "" {
		r.hostID = p.ID
	}
	r.touchLocked()
	return len(r.players) - 1, nil
}

// Leave removes playerID. A waiting room frees the seat and ends once
// empty; an active game ends abandoned. It reports whether the room ended.
func (r *Room) Leave(playerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == model.StatusFinished {
		return false, gameerr.New(gameerr.ErrSessionFinished, "leave", r.id, nil)
	}
	i := r.seatLocked(playerID)
	if i < 0 {
		return false, gameerr.Newf(gameerr.ErrIllegalMove, "leave", r.id, "%s is not seated", playerID)
	}
	delete(r.conns, playerID)
	r.touchLocked()

	if r.status == model.StatusActive {
		r.finishLocked(&model.Outcome{Kind: model.OutcomeAbandoned})
		return true, nil
	}
	r.players = append(r.players[:i:i], r.players[i+1:]...)
	if r.hostID == playerID {
		r.hostID = ""
		if len(r.players) > 0 {
			r.hostID = r.players[0].ID
		}
	}
	if len(r.players) == 0 {
		r.finishLocked(&model.Outcome{Kind: model.OutcomeAbandoned})
		return true, nil
	}
	return false, nil
}

// Start deals the game. Only the host may start a room.
func (r *Room) Start(playerID string, rng *rand.Rand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.status == model.StatusFinished:
		return gameerr.New(gameerr.ErrSessionFinished, "start", r.id, nil)
	case r.status != model.StatusWaiting:
		return gameerr.Newf(gameerr.ErrIllegalMove, "start", r.id, "room already started")
	case playerID != r.hostID:
		return gameerr.Newf(gameerr.ErrIllegalMove, "start", r.id, "only the host can start")
	}
	info := r.variant.Info()
	if len(r.players) < info.MinPlayers {
		return gameerr.Newf(gameerr.ErrIllegalMove, "start", r.id, "need at least %d players, have %d", info.MinPlayers, len(r.players))
	}

	ids := make([]string, len(r.players))
	for i, p := range r.players {
		ids[i] = p.ID
	}
	st, err := r.variant.NewState(ids, rng)
	if err != nil {
		return gameerr.New(gameerr.ErrIllegalMove, "start", r.id, err)
	}
	r.state = st
	r.status = model.StatusActive
	r.touchLocked()
	return nil
}

// Move applies playerID's move and finishes the room if the game is over.
func (r *Room) Move(playerID string, m game.Move) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case model.StatusFinished:
		return gameerr.New(gameerr.ErrSessionFinished, "move", r.id, nil)
	case model.StatusWaiting:
		return gameerr.Newf(gameerr.ErrIllegalMove, "move", r.id, "room has not started")
	}
	if err := r.state.Apply(playerID, m); err != nil {
		return err
	}
	r.touchLocked()
	if res, done := r.state.Result(); done {
		if res.Draw {
			r.finishLocked(&model.Outcome{Kind: model.OutcomeDraw})
		} else {
			r.finishLocked(&model.Outcome{Kind: model.OutcomeWinner, Winner: res.Winner})
		}
	}
	return nil
}

func (r *Room) Finished() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status == model.StatusFinished
}

// Snapshot returns the authoritative room state.
func (r *Room) Snapshot() protocol.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() protocol.RoomState {
	st := protocol.RoomState{
		Participants: append([]model.Player(nil), r.players...),
		Status:       r.status,
	}
	if r.state != nil {
		st.Payload, _ = game.Encode(r.state)
		if r.status == model.StatusActive {
			st.Turn = r.state.Turn()
		}
	}
	if r.outcome != nil {
		o := *r.outcome
		st.Outcome = &o
	}
	return st
}

// Descriptor returns room info for the REST API.
func (r *Room) Descriptor() protocol.RoomDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return protocol.RoomDescriptor{
		ID:           r.id,
		Variant:      r.variant.Info().Name,
		Capacity:     r.capacity,
		HostID:       r.hostID,
		Status:       r.status,
		Participants: append([]model.Player(nil), r.players...),
	}
}

// attach routes the room's broadcasts for playerID to c, replacing an
// earlier connection. It fails if playerID is not seated.
func (r *Room) attach(playerID string, c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seatLocked(playerID) < 0 {
		return false
	}
	r.conns[playerID] = c
	return true
}

func (r *Room) detach(playerID string, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[playerID] == c {
		delete(r.conns, playerID)
	}
}

// broadcast sends env to every connected seat.
func (r *Room) broadcast(env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		c.trySend(data)
	}
}

// idle reports whether nobody is connected and the room has not changed
// for maxAge.
func (r *Room) idle(now time.Time, maxAge time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if now.Sub(r.updatedAt) <= maxAge {
		return false
	}
	return r.status == model.StatusFinished || len(r.conns) == 0
}

func (r *Room) seatLocked(playerID string) int {
	for i, p := range r.players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) finishLocked(o *model.Outcome) {
	r.status = model.StatusFinished
	r.outcome = o
}

func (r *Room) touchLocked() {
	r.updatedAt = time.Now().UTC()
}

// roomRecord is the persisted form of a room.
type roomRecord struct {
	ID        string          `json:"id"`
	Variant   string          `json:"variant"`
	Capacity  int             `json:"capacity"`
	HostID    string          `json:"hostId"`
	Status    model.Status    `json:"status"`
	Players   []model.Player  `json:"players"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Outcome   *model.Outcome  `json:"outcome,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (r *Room) record() roomRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.snapshotLocked()
	return roomRecord{
		ID:        r.id,
		Variant:   r.variant.Info().Name,
		Capacity:  r.capacity,
		HostID:    r.hostID,
		Status:    r.status,
		Players:   st.Participants,
		Payload:   st.Payload,
		Outcome:   st.Outcome,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

// roomFromRecord rebuilds a room, decoding the game state through v.
func roomFromRecord(rec roomRecord, v game.Variant) (*Room, error) {
	r := &Room{
		id:        rec.ID,
		variant:   v,
		capacity:  rec.Capacity,
		hostID:    rec.HostID,
		status:    rec.Status,
		players:   rec.Players,
		outcome:   rec.Outcome,
		conns:     make(map[string]*client),
		createdAt: rec.CreatedAt,
		updatedAt: rec.UpdatedAt,
	}
	if len(rec.Payload) > 0 {
		st, err := v.Decode(rec.Payload)
		if err != nil {
			return nil, gameerr.New(gameerr.ErrStateCorruption, "restore", rec.ID, err)
		}
		r.state = st
	}
	if r.status == model.StatusActive && r.state == nil {
		return nil, gameerr.Newf(gameerr.ErrStateCorruption, "restore", rec.ID, "active room without state")
	}
	return r, nil
}
