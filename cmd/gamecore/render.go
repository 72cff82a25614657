package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gamecore/internal/game"
	"gamecore/internal/model"
)

// render prints s for player me and returns the moves me may make now.
func render(w io.Writer, variants *game.Registry, s model.Session, me string) []game.Move {
	fmt.Fprintf(w, "\n== %s  %s  [%s, %s]\n", s.Variant, s.ID, s.Mode, s.Status)
	names := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		if p.ID == me {
			name += " (you)"
		}
		names = append(names, name)
	}
	fmt.Fprintf(w, "players: %s\n", strings.Join(names, ", "))

	if len(s.Payload) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, s.Payload, "", "  "); err == nil {
			fmt.Fprintln(w, buf.String())
		}
	}

	switch {
	case s.Finished():
		fmt.Fprintln(w, describeOutcome(s, me))
		return nil
	case s.Status == model.StatusWaiting:
		fmt.Fprintln(w, "waiting for players; type 'start' when everyone has joined")
		return nil
	case s.Turn != me:
		fmt.Fprintf(w, "waiting for %s\n", s.Turn)
		return nil
	}

	moves := legalMoves(variants, s, me)
	fmt.Fprintln(w, "your move:")
	for i, m := range moves {
		fmt.Fprintf(w, "  %2d) %s\n", i+1, formatMove(m))
	}
	return moves
}

func legalMoves(variants *game.Registry, s model.Session, me string) []game.Move {
	v, ok := variants.Get(s.Variant)
	if !ok {
		return nil
	}
	st, err := v.Decode(s.Payload)
	if err != nil {
		return nil
	}
	return st.LegalMoves(me)
}

func formatMove(m game.Move) string {
	if len(m.Payload) == 0 {
		return m.Type
	}
	return m.Type + " " + string(m.Payload)
}

func describeOutcome(s model.Session, me string) string {
	if s.Outcome == nil {
		return "game over"
	}
	switch s.Outcome.Kind {
	case model.OutcomeDraw:
		return "game over: draw"
	case model.OutcomeWinner:
		if s.Outcome.Winner == me {
			return "game over: you win"
		}
		winner := s.Outcome.Winner
		if p, ok := s.Participant(winner); ok && p.DisplayName != "" {
			winner = p.DisplayName
		}
		return "game over: " + winner + " wins"
	default:
		return fmt.Sprintf("game over: abandoned (%s)", s.EndReason)
	}
}
