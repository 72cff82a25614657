package server

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/storage"
)

const roomPrefix = "relay/room/"

// Rooms holds every room hosted by this relay. When a store is configured
// rooms are saved after each change and can be restored on startup.
type Rooms struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	variants *game.Registry
	kv       *storage.Store
	log      *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRooms creates a room registry. kv may be nil.
func NewRooms(variants *game.Registry, kv *storage.Store, seed uint64, log *zap.Logger) *Rooms {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Rooms{
		rooms:    make(map[string]*Room),
		variants: variants,
		kv:       kv,
		log:      log,
		rng:      game.NewRand(seed),
	}
}

// Create opens a room for variant with host in the first seat. A zero
// capacity means the variant's maximum.
func (rs *Rooms) Create(ctx context.Context, variant string, capacity int, host model.Player) (*Room, error) {
	v, err := rs.variants.Lookup(variant)
	if err != nil {
		return nil, err
	}
	info := v.Info()
	if capacity == 0 {
		capacity = info.MaxPlayers
	}
	if capacity < info.MinPlayers || capacity > info.MaxPlayers {
		return nil, gameerr.Newf(gameerr.ErrIllegalMove, "create", "", "%s seats %d to %d players", info.Name, info.MinPlayers, info.MaxPlayers)
	}

	rs.mu.Lock()
	id := generateCode()
	for rs.rooms[id] != nil {
		id = generateCode()
	}
	r := newRoom(id, v, capacity)
	rs.rooms[id] = r
	rs.mu.Unlock()

	if _, err := r.Join(host); err != nil {
		return nil, err
	}
	rs.Save(ctx, r)
	rs.log.Info("room created", zap.String("room", id), zap.String("variant", info.Name), zap.String("host", host.ID))
	return r, nil
}

func (rs *Rooms) Get(id string) (*Room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.rooms[id]
	return r, ok
}

// List returns every room, ordered by id.
func (rs *Rooms) List() []*Room {
	rs.mu.RLock()
	out := make([]*Room, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		out = append(out, r)
	}
	rs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Start deals the room's game on behalf of playerID.
func (rs *Rooms) Start(ctx context.Context, r *Room, playerID string) error {
	rs.rngMu.Lock()
	err := r.Start(playerID, rs.rng)
	rs.rngMu.Unlock()
	if err != nil {
		return err
	}
	rs.Save(ctx, r)
	return nil
}

// Save persists r. Failures are logged; the in-memory room stays
// authoritative.
func (rs *Rooms) Save(ctx context.Context, r *Room) {
	if rs.kv == nil {
		return
	}
	data, err := json.Marshal(r.record())
	if err != nil {
		rs.log.Error("marshal room", zap.String("room", r.id), zap.Error(err))
		return
	}
	err = rs.kv.Update(ctx, func(tx *storage.Tx) error {
		return tx.Put(roomPrefix+r.id, data)
	})
	if err != nil {
		rs.log.Error("save room", zap.String("room", r.id), zap.Error(err))
	}
}

// Restore loads unfinished rooms from storage.
func (rs *Rooms) Restore(ctx context.Context) (int, error) {
	if rs.kv == nil {
		return 0, nil
	}
	keys, err := rs.kv.Keys(ctx, roomPrefix)
	if err != nil {
		return 0, gameerr.New(gameerr.ErrPersistence, "restore", "", err)
	}
	n := 0
	for _, key := range keys {
		data, err := rs.kv.Get(ctx, key)
		if err != nil {
			rs.log.Warn("skipping room", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec roomRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			rs.log.Warn("skipping room", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec.Status == model.StatusFinished {
			continue
		}
		v, ok := rs.variants.Get(rec.Variant)
		if !ok {
			rs.log.Warn("skipping room with unknown variant", zap.String("room", rec.ID), zap.String("variant", rec.Variant))
			continue
		}
		r, err := roomFromRecord(rec, v)
		if err != nil {
			rs.log.Warn("skipping room", zap.String("room", rec.ID), zap.Error(err))
			continue
		}
		rs.mu.Lock()
		rs.rooms[r.id] = r
		rs.mu.Unlock()
		n++
	}
	return n, nil
}

// Remove deletes a room from memory and storage.
func (rs *Rooms) Remove(ctx context.Context, id string) {
	rs.mu.Lock()
	delete(rs.rooms, id)
	rs.mu.Unlock()
	if rs.kv == nil {
		return
	}
	err := rs.kv.Update(ctx, func(tx *storage.Tx) error {
		return tx.Delete(roomPrefix + id)
	})
	if err != nil {
		rs.log.Warn("delete room", zap.String("room", id), zap.Error(err))
	}
}

// CleanupLoop removes stale rooms every interval until ctx is done.
func (rs *Rooms) CleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.cleanup(ctx, time.Now().UTC(), maxAge)
		}
	}
}

// cleanup removes rooms that are finished or have nobody connected and
// have not changed for maxAge.
func (rs *Rooms) cleanup(ctx context.Context, now time.Time, maxAge time.Duration) int {
	n := 0
	for _, r := range rs.List() {
		if r.idle(now, maxAge) {
			rs.log.Info("cleaning up room", zap.String("room", r.id))
			rs.Remove(ctx, r.id)
			n++
		}
	}
	return n
}

func generateCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
