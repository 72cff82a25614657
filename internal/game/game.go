package game

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"

	"gamecore/internal/gameerr"
)

// Info describes a variant for listings and seat bounds.
type Info struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	MinPlayers int    `json:"minPlayers"`
	MaxPlayers int    `json:"maxPlayers"`
}

// Move is one player intent. Payload shape depends on Type and variant.
type Move struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PassType is the move type of the pass sentinel.
const PassType = "pass"

// Pass is returned by opponents when no legal move exists.
var Pass = Move{Type: PassType}

// NewMove builds a move with a JSON payload.
func NewMove(typ string, payload any) Move {
	if payload == nil {
		return Move{Type: typ}
	}
	data, _ := json.Marshal(payload)
	return Move{Type: typ, Payload: data}
}

// IsPass reports whether m is the pass sentinel.
func (m Move) IsPass() bool {
	return m.Type == PassType && len(m.Payload) == 0
}

// Decode unmarshals the payload into v.
func (m Move) Decode(v any) error {
	if len(m.Payload) == 0 {
		return Illegalf("%s move needs a payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return Illegalf("invalid %s payload: %v", m.Type, err)
	}
	return nil
}

// Equal compares moves by type and compacted payload.
func (m Move) Equal(o Move) bool {
	if m.Type != o.Type {
		return false
	}
	return bytes.Equal(compact(m.Payload), compact(o.Payload))
}

func compact(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// Result is the terminal result of a state.
type Result struct {
	Winner string // empty on a draw
	Draw   bool
}

// State is the variant-specific payload of a session. Implementations
// must round-trip through encoding/json.
type State interface {
	// Turn returns the id of the player whose move is awaited, or "" once
	// the state is terminal.
	Turn() string
	// LegalMoves lists the moves playerID may make now.
	LegalMoves(playerID string) []Move
	// Apply validates and applies a move. Failures wrap gameerr.ErrIllegalMove.
	Apply(playerID string, m Move) error
	// Result returns the outcome once the state is terminal.
	Result() (Result, bool)
}

// Variant describes a game type (tic-tac-toe, racing, etc.)
type Variant interface {
	Info() Info
	NewState(players []string, rng *rand.Rand) (State, error)
	Decode(payload json.RawMessage) (State, error)
}

// Opponent picks a move for an AI seat. It may assume it is playerID's turn
// on a non-terminal state.
type Opponent interface {
	Decide(s State, playerID string, rng *rand.Rand) Move
}

// Encode serializes a state for a session payload.
func Encode(s State) (json.RawMessage, error) {
	return json.Marshal(s)
}

// Illegalf returns an error of kind gameerr.ErrIllegalMove.
func Illegalf(format string, args ...any) error {
	return gameerr.Newf(gameerr.ErrIllegalMove, "", "", format, args...)
}

// NotYourTurn is the common rejection for out-of-turn moves.
func NotYourTurn(playerID string) error {
	return Illegalf("not %s's turn", playerID)
}

// IsLegal reports whether m appears in legal.
func IsLegal(legal []Move, m Move) bool {
	for _, l := range legal {
		if l.Equal(m) {
			return true
		}
	}
	return false
}

// NewRand returns a deterministic generator for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
