// Package catalog wires every built-in variant with its AI opponent.
package catalog

import (
	"gamecore/internal/game"
	"gamecore/internal/game/connectfour"
	"gamecore/internal/game/crazyeights"
	"gamecore/internal/game/racing"
	"gamecore/internal/game/tictactoe"
	"gamecore/internal/game/wordguess"
)

// Entry pairs a variant with the opponent that plays it.
type Entry struct {
	Variant  game.Variant
	Opponent game.Opponent
}

// Entries returns the built-in variants.
func Entries() []Entry {
	return []Entry{
		{tictactoe.TicTacToe{}, tictactoe.Opponent{}},
		{connectfour.ConnectFour{}, connectfour.Opponent{}},
		{wordguess.WordGuess{}, wordguess.Opponent{}},
		{racing.Racing{}, racing.Opponent{}},
		{crazyeights.CrazyEights{}, crazyeights.Opponent{}},
	}
}

// Registry returns a variant registry holding every entry.
func Registry() *game.Registry {
	r := game.NewRegistry()
	for _, e := range Entries() {
		r.Register(e.Variant)
	}
	return r
}

// Opponents returns the opponent lookup table keyed by variant name.
func Opponents() map[string]game.Opponent {
	m := make(map[string]game.Opponent)
	for _, e := range Entries() {
		m[e.Variant.Info().Name] = e.Opponent
	}
	return m
}
