// Package crazyeights implements two-player Crazy Eights. Players match the
// top discard by suit or rank, eights are wild and name the next suit, and
// the first player to empty their hand wins.
package crazyeights

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"

	"gamecore/internal/game"
)

const (
	Name = "crazyeights"

	MovePlay = "play"
	MoveDraw = "draw"
	// MoveSkip gives up the turn when nothing is playable and the stock is
	// empty. It is distinct from the game.Pass sentinel.
	MoveSkip = "skip"

	HandSize = 7
	wild     = 8
)

// Suits in deck order.
var Suits = []string{"c", "d", "h", "s"}

// Card is a playing card. Rank runs from 1 (ace) to 13 (king).
type Card struct {
	Rank int    `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string {
	names := map[int]string{1: "A", 11: "J", 12: "Q", 13: "K"}
	if n, ok := names[c.Rank]; ok {
		return n + c.Suit
	}
	return fmt.Sprintf("%d%s", c.Rank, c.Suit)
}

func (c Card) valid() bool {
	return c.Rank >= 1 && c.Rank <= 13 && slices.Contains(Suits, c.Suit)
}

// PlayPayload is the payload of a play move. Suit is required for eights
// and must be empty otherwise.
type PlayPayload struct {
	Card Card   `json:"card"`
	Suit string `json:"suit,omitempty"`
}

// Play builds a play move for a non-eight card.
func Play(c Card) game.Move {
	return game.NewMove(MovePlay, PlayPayload{Card: c})
}

// PlayEight builds a play move for an eight naming suit.
func PlayEight(c Card, suit string) game.Move {
	return game.NewMove(MovePlay, PlayPayload{Card: c, Suit: suit})
}

func Draw() game.Move { return game.Move{Type: MoveDraw} }
func Skip() game.Move { return game.Move{Type: MoveSkip} }

// CrazyEights implements game.Variant.
type CrazyEights struct{}

func (CrazyEights) Info() game.Info {
	return game.Info{Name: Name, Title: "Crazy Eights", MinPlayers: 2, MaxPlayers: 2}
}

func (CrazyEights) NewState(players []string, rng *rand.Rand) (game.State, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("crazy eights needs 2 players, got %d", len(players))
	}
	if rng == nil {
		return nil, fmt.Errorf("crazy eights needs a random source to shuffle")
	}
	deck := make([]Card, 0, 52)
	for _, suit := range Suits {
		for rank := 1; rank <= 13; rank++ {
			deck = append(deck, Card{Rank: rank, Suit: suit})
		}
	}
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	s := &State{Players: [2]string{players[0], players[1]}, Winner: -1}
	for i := range s.Hands {
		s.Hands[i] = slices.Clone(deck[:HandSize])
		deck = deck[HandSize:]
	}
	// Never open on a wild card.
	start := slices.IndexFunc(deck, func(c Card) bool { return c.Rank != wild })
	top := deck[start]
	deck = slices.Delete(deck, start, start+1)
	s.Discard = []Card{top}
	s.Suit = top.Suit
	s.Stock = deck
	return s, nil
}

func (CrazyEights) Decode(payload json.RawMessage) (game.State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode crazy eights state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid crazy eights state: %w", err)
	}
	return &s, nil
}

// State implements game.State.
type State struct {
	Players [2]string `json:"players"`
	Hands   [2][]Card `json:"hands"`
	Stock   []Card    `json:"stock"`
	Discard []Card    `json:"discard"`
	Suit    string    `json:"suit"` // suit to follow, set by eights
	Next    int       `json:"next"`
	Skips   int       `json:"skips"` // consecutive skips
	Done    bool      `json:"done"`
	Winner  int       `json:"winner"` // -1 while playing or on a draw
}

// Top returns the top of the discard pile.
func (s *State) Top() Card {
	return s.Discard[len(s.Discard)-1]
}

func (s *State) playable(c Card) bool {
	return c.Rank == wild || c.Suit == s.Suit || c.Rank == s.Top().Rank
}

func (s *State) Turn() string {
	if s.Done {
		return ""
	}
	return s.Players[s.Next]
}

func (s *State) LegalMoves(playerID string) []game.Move {
	if s.Done || playerID != s.Players[s.Next] {
		return nil
	}
	var moves []game.Move
	for _, c := range s.Hands[s.Next] {
		if !s.playable(c) {
			continue
		}
		if c.Rank == wild {
			for _, suit := range Suits {
				moves = append(moves, PlayEight(c, suit))
			}
			continue
		}
		moves = append(moves, Play(c))
	}
	if len(moves) > 0 {
		return moves
	}
	if len(s.Stock) > 0 {
		return []game.Move{Draw()}
	}
	return []game.Move{Skip()}
}

func (s *State) hasPlayable(hand []Card) bool {
	return slices.ContainsFunc(hand, s.playable)
}

func (s *State) Apply(playerID string, m game.Move) error {
	if s.Done {
		return game.Illegalf("game is over")
	}
	if playerID != s.Players[s.Next] {
		return game.NotYourTurn(playerID)
	}
	hand := s.Hands[s.Next]

	switch m.Type {
	case MovePlay:
		var p PlayPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		idx := slices.Index(hand, p.Card)
		if idx < 0 {
			return game.Illegalf("%s is not in hand", p.Card)
		}
		if !s.playable(p.Card) {
			return game.Illegalf("%s does not match %s or suit %s", p.Card, s.Top(), s.Suit)
		}
		suit := p.Card.Suit
		if p.Card.Rank == wild {
			if !slices.Contains(Suits, p.Suit) {
				return game.Illegalf("an eight must name a suit, got %q", p.Suit)
			}
			suit = p.Suit
		} else if p.Suit != "" {
			return game.Illegalf("only eights name a suit")
		}
		s.Hands[s.Next] = slices.Delete(hand, idx, idx+1)
		s.Discard = append(s.Discard, p.Card)
		s.Suit = suit
		s.Skips = 0
		if len(s.Hands[s.Next]) == 0 {
			s.Done = true
			s.Winner = s.Next
			return nil
		}
		s.Next = 1 - s.Next
	case MoveDraw:
		if s.hasPlayable(hand) {
			return game.Illegalf("cannot draw while holding a playable card")
		}
		if len(s.Stock) == 0 {
			return game.Illegalf("stock is empty")
		}
		// The drawing player keeps the turn.
		s.Hands[s.Next] = append(hand, s.Stock[len(s.Stock)-1])
		s.Stock = s.Stock[:len(s.Stock)-1]
		s.Skips = 0
	case MoveSkip:
		if s.hasPlayable(hand) || len(s.Stock) > 0 {
			return game.Illegalf("skip is only allowed when unable to play or draw")
		}
		s.Skips++
		if s.Skips >= 2 {
			s.Done = true
			return nil
		}
		s.Next = 1 - s.Next
	default:
		return game.Illegalf("unknown move type: %s", m.Type)
	}
	return nil
}

func (s *State) Result() (game.Result, bool) {
	if !s.Done {
		return game.Result{}, false
	}
	if s.Winner < 0 {
		return game.Result{Draw: true}, true
	}
	return game.Result{Winner: s.Players[s.Winner]}, true
}

func (s *State) validate() error {
	if len(s.Discard) == 0 {
		return fmt.Errorf("empty discard pile")
	}
	seen := make(map[Card]bool, 52)
	piles := [][]Card{s.Hands[0], s.Hands[1], s.Stock, s.Discard}
	for _, pile := range piles {
		for _, c := range pile {
			if !c.valid() {
				return fmt.Errorf("invalid card %+v", c)
			}
			if seen[c] {
				return fmt.Errorf("duplicate card %s", c)
			}
			seen[c] = true
		}
	}
	if len(seen) != 52 {
		return fmt.Errorf("deck has %d cards", len(seen))
	}
	if !slices.Contains(Suits, s.Suit) {
		return fmt.Errorf("invalid suit %q", s.Suit)
	}
	if s.Next != 0 && s.Next != 1 {
		return fmt.Errorf("next %d out of range", s.Next)
	}
	if s.Skips < 0 || s.Skips > 2 {
		return fmt.Errorf("skips %d out of range", s.Skips)
	}
	if s.Winner < -1 || s.Winner > 1 || (!s.Done && s.Winner != -1) {
		return fmt.Errorf("winner %d inconsistent with done=%v", s.Winner, s.Done)
	}
	return nil
}
