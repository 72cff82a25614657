// Package ai picks moves for AI seats. Each variant contributes a decider;
// the engine guards every decision so callers always get a legal move or
// the pass sentinel.
package ai

import (
	"encoding/json"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
)

// Engine is safe for concurrent use.
type Engine struct {
	variants  *game.Registry
	opponents map[string]game.Opponent
	log       *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewEngine builds an engine over the given lookup table. The seed makes
// tie-breaks reproducible.
func NewEngine(variants *game.Registry, opponents map[string]game.Opponent, seed uint64, log *zap.Logger) *Engine {
	return &Engine{
		variants:  variants,
		opponents: opponents,
		log:       log,
		rng:       game.NewRand(seed),
	}
}

// Decide returns the AI's move for playerID on the encoded state. It returns
// game.Pass when the state is terminal, it is not playerID's turn, or no
// legal move exists.
func (e *Engine) Decide(variant string, payload json.RawMessage, playerID string) (game.Move, error) {
	v, err := e.variants.Lookup(variant)
	if err != nil {
		return game.Pass, err
	}
	opp, ok := e.opponents[variant]
	if !ok {
		return game.Pass, gameerr.Newf(gameerr.ErrUnsupportedVariant, "ai decide", "", "no opponent for %q", variant)
	}
	state, err := v.Decode(payload)
	if err != nil {
		return game.Pass, gameerr.New(gameerr.ErrStateCorruption, "ai decide", "", err)
	}
	if _, done := state.Result(); done || state.Turn() != playerID {
		return game.Pass, nil
	}
	legal := state.LegalMoves(playerID)
	if len(legal) == 0 {
		return game.Pass, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := opp.Decide(state, playerID, e.rng)
	if e.valid(v, payload, playerID, m) {
		return m, nil
	}
	fallback := legal[e.rng.IntN(len(legal))]
	e.log.Warn("opponent produced an illegal move, using a random legal one",
		zap.String("variant", variant),
		zap.String("move", m.Type),
		zap.String("fallback", fallback.Type))
	return fallback, nil
}

// valid applies m to a fresh copy of the state.
func (e *Engine) valid(v game.Variant, payload json.RawMessage, playerID string, m game.Move) bool {
	if m.IsPass() {
		return false
	}
	cp, err := v.Decode(payload)
	if err != nil {
		return false
	}
	return cp.Apply(playerID, m) == nil
}
