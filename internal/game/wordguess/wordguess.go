// Package wordguess implements a two-player word guessing race: players
// alternate guessing letters or the whole word, and whoever completes the
// word wins. Running out of the shared miss budget is a draw.
package wordguess

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"gamecore/internal/game"
)

const (
	Name = "wordguess"

	MoveLetter = "letter"
	MoveWord   = "word"

	// DefaultMaxMisses is the shared miss budget of a new game.
	DefaultMaxMisses = 8
)

// Dictionary is the word list secrets are drawn from. The AI opponent
// narrows candidates against the same list.
var Dictionary = []string{
	"anchor", "apple", "banner", "basket", "bridge", "button", "candle", "carpet",
	"castle", "cherry", "circle", "copper", "dragon", "engine", "falcon", "forest",
	"garden", "ginger", "guitar", "hammer", "harbor", "island", "jacket", "jungle",
	"kettle", "ladder", "lemon", "magnet", "marble", "meadow", "mirror", "monkey",
	"needle", "orange", "oyster", "palace", "pepper", "pillow", "planet", "pocket",
	"puzzle", "rabbit", "ribbon", "rocket", "saddle", "silver", "spider", "stream",
	"summer", "tablet", "ticket", "timber", "tunnel", "turtle", "velvet", "violin",
	"wallet", "window", "winter", "yellow", "zipper",
}

// WordGuess implements game.Variant.
type WordGuess struct{}

func (WordGuess) Info() game.Info {
	return game.Info{Name: Name, Title: "Word Guess", MinPlayers: 2, MaxPlayers: 2}
}

func (WordGuess) NewState(players []string, rng *rand.Rand) (game.State, error) {
	if len(players) != 2 {
		return nil, fmt.Errorf("wordguess needs 2 players, got %d", len(players))
	}
	if rng == nil {
		return nil, fmt.Errorf("wordguess needs a random source")
	}
	return &State{
		Players:   [2]string{players[0], players[1]},
		Word:      Dictionary[rng.IntN(len(Dictionary))],
		MaxMisses: DefaultMaxMisses,
		Winner:    -1,
	}, nil
}

func (WordGuess) Decode(payload json.RawMessage) (game.State, error) {
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode wordguess state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid wordguess state: %w", err)
	}
	return &s, nil
}

// State implements game.State.
type State struct {
	Players    [2]string `json:"players"`
	Word       string    `json:"word"`
	Guessed    []string  `json:"guessed"`    // letters, in guess order
	WrongWords []string  `json:"wrongWords"` // rejected whole-word guesses
	Misses     int       `json:"misses"`
	MaxMisses  int       `json:"maxMisses"`
	Next       int       `json:"next"`
	Done       bool      `json:"done"`
	Winner     int       `json:"winner"`
}

// LetterPayload is the payload of a letter guess.
type LetterPayload struct {
	Letter string `json:"letter"`
}

// WordPayload is the payload of a whole-word guess.
type WordPayload struct {
	Word string `json:"word"`
}

// Letter builds a letter guess.
func Letter(l string) game.Move { return game.NewMove(MoveLetter, LetterPayload{Letter: l}) }

// Word builds a whole-word guess.
func Word(w string) game.Move { return game.NewMove(MoveWord, WordPayload{Word: w}) }

// Pattern returns the word with unguessed letters replaced by '_'.
func (s *State) Pattern() string {
	var b strings.Builder
	for _, r := range s.Word {
		if slices.Contains(s.Guessed, string(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
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
	for l := 'a'; l <= 'z'; l++ {
		if !slices.Contains(s.Guessed, string(l)) {
			moves = append(moves, Letter(string(l)))
		}
	}
	for _, w := range s.Candidates() {
		moves = append(moves, Word(w))
	}
	return moves
}

func (s *State) Apply(playerID string, m game.Move) error {
	if s.Done {
		return game.Illegalf("game is over")
	}
	if playerID != s.Players[s.Next] {
		return game.NotYourTurn(playerID)
	}
	switch m.Type {
	case MoveLetter:
		var p LetterPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		l := strings.ToLower(p.Letter)
		if len(l) != 1 || l[0] < 'a' || l[0] > 'z' {
			return game.Illegalf("%q is not a letter", p.Letter)
		}
		if slices.Contains(s.Guessed, l) {
			return game.Illegalf("letter %q already guessed", l)
		}
		s.Guessed = append(s.Guessed, l)
		if !strings.Contains(s.Word, l) {
			s.Misses++
		}
		if !strings.Contains(s.Pattern(), "_") {
			s.finish(s.Next)
			return nil
		}
	case MoveWord:
		var p WordPayload
		if err := m.Decode(&p); err != nil {
			return err
		}
		w := strings.ToLower(p.Word)
		if len(w) != len(s.Word) || strings.Trim(w, "abcdefghijklmnopqrstuvwxyz") != "" {
			return game.Illegalf("%q is not a %d-letter word", p.Word, len(s.Word))
		}
		if slices.Contains(s.WrongWords, w) {
			return game.Illegalf("word %q already tried", w)
		}
		if w == s.Word {
			s.finish(s.Next)
			return nil
		}
		s.WrongWords = append(s.WrongWords, w)
		s.Misses++
	default:
		return game.Illegalf("unknown move type: %s", m.Type)
	}

	if s.Misses >= s.MaxMisses {
		s.finish(-1)
		return nil
	}
	s.Next = 1 - s.Next
	return nil
}

func (s *State) finish(winner int) {
	s.Done = true
	s.Winner = winner
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

// Candidates returns the dictionary words consistent with what has been
// revealed and ruled out so far.
func (s *State) Candidates() []string {
	pattern := s.Pattern()
	var out []string
	for _, w := range Dictionary {
		if len(w) != len(pattern) || slices.Contains(s.WrongWords, w) {
			continue
		}
		ok := true
		for i := 0; i < len(w) && ok; i++ {
			if pattern[i] == '_' {
				ok = !slices.Contains(s.Guessed, string(w[i]))
			} else {
				ok = pattern[i] == w[i]
			}
		}
		if ok {
			out = append(out, w)
		}
	}
	return out
}

func (s *State) validate() error {
	if s.Players[0] == "" || s.Players[1] == "" || s.Players[0] == s.Players[1] {
		return fmt.Errorf("players must be two distinct ids")
	}
	if s.Word == "" || strings.Trim(s.Word, "abcdefghijklmnopqrstuvwxyz") != "" {
		return fmt.Errorf("secret %q is not a lowercase word", s.Word)
	}
	if s.MaxMisses <= 0 || s.Misses < 0 || s.Misses > s.MaxMisses {
		return fmt.Errorf("misses %d/%d out of range", s.Misses, s.MaxMisses)
	}
	if s.Next != 0 && s.Next != 1 {
		return fmt.Errorf("next %d out of range", s.Next)
	}
	for _, l := range s.Guessed {
		if len(l) != 1 || l[0] < 'a' || l[0] > 'z' {
			return fmt.Errorf("guessed %q is not a letter", l)
		}
	}
	if s.Winner < -1 || s.Winner > 1 || (!s.Done && s.Winner != -1) {
		return fmt.Errorf("winner %d inconsistent with done=%v", s.Winner, s.Done)
	}
	return nil
}
