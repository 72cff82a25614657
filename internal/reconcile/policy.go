// Package reconcile decides when multiplayer play falls back to local play.
//
// The policy follows transport health events. A disconnect starts a grace
// timer and a reconnect cancels it. If the timer fires, or the caller asks
// to go offline, every unfinished multiplayer session is ended as abandoned
// and one Offer per session is published so the caller can start a fresh
// local game of the same variant. Multiplayer payloads are never carried
// over: only the relay holds authority over them.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gamecore/internal/model"
	"gamecore/internal/session"
	"gamecore/internal/transport"
)

// Phase is the connectivity phase of the policy.
type Phase string

const (
	PhaseOnline   Phase = "online"
	PhaseDegraded Phase = "degraded" // disconnected, within the grace period
	PhaseOffline  Phase = "offline"
)

// Offer proposes a local replacement for an abandoned multiplayer session.
type Offer struct {
	Variant string
	Player  model.Player
	From    string // id of the abandoned session
	Reason  model.EndReason
}

// Sessions is the part of the session manager the policy drives.
type Sessions interface {
	AbandonMultiplayer(ctx context.Context, reason model.EndReason) []session.Abandoned
	Create(ctx context.Context, variant string, mode model.Mode, initiator model.Player) (model.Session, error)
}

// Config tunes a Policy.
type Config struct {
	Grace       time.Duration // how long a disconnect is tolerated
	OfferBuffer int
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 10 * time.Second
	}
	if c.OfferBuffer <= 0 {
		c.OfferBuffer = 16
	}
	return c
}

// Policy is the reconciliation state machine.
type Policy struct {
	cfg      Config
	sessions Sessions
	log      *zap.Logger
	offers   chan Offer

	mu    sync.Mutex
	phase Phase
	grace *time.Timer
	gen   int // invalidates timers that fired after being replaced
}

// New creates a policy in the online phase. Call Run to feed it events.
func New(sessions Sessions, cfg Config, log *zap.Logger) *Policy {
	cfg = cfg.withDefaults()
	return &Policy{
		cfg:      cfg,
		sessions: sessions,
		log:      log,
		offers:   make(chan Offer, cfg.OfferBuffer),
		phase:    PhaseOnline,
	}
}

// Run consumes health events until ctx is done or events is closed. A
// closed channel means the transport is gone for good, so unfinished
// multiplayer sessions are ended at once.
func (p *Policy) Run(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			p.stopGrace()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				p.transportClosed()
				return nil
			}
			p.Observe(ev)
		}
	}
}

func (p *Policy) transportClosed() {
	p.mu.Lock()
	if p.phase == PhaseOffline {
		p.stopGraceLocked()
		p.mu.Unlock()
		return
	}
	p.enterOfflineLocked()
	p.mu.Unlock()
	p.log.Warn("transport closed, ending multiplayer sessions")
	p.abandon(model.EndConnectionLost)
}

// Observe applies one health event.
func (p *Policy) Observe(ev transport.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.State {
	case transport.StateDisconnected:
		if p.phase != PhaseOnline {
			return
		}
		p.phase = PhaseDegraded
		p.gen++
		gen := p.gen
		p.grace = time.AfterFunc(p.cfg.Grace, func() { p.expire(gen) })
		p.log.Warn("connection lost, waiting for reconnect", zap.Duration("grace", p.cfg.Grace), zap.Error(ev.Err))
	case transport.StateConnected:
		if p.phase == PhaseOnline {
			return
		}
		p.stopGraceLocked()
		p.log.Info("connection restored", zap.String("from", string(p.phase)))
		p.phase = PhaseOnline
	}
}

func (p *Policy) expire(gen int) {
	p.mu.Lock()
	if gen != p.gen || p.phase != PhaseDegraded {
		p.mu.Unlock()
		return
	}
	p.enterOfflineLocked()
	p.mu.Unlock()
	p.log.Warn("grace period elapsed, ending multiplayer sessions")
	p.abandon(model.EndConnectionLost)
}

// RequestOffline ends multiplayer play at the caller's request.
func (p *Policy) RequestOffline() {
	p.mu.Lock()
	p.enterOfflineLocked()
	p.mu.Unlock()
	p.abandon(model.EndOfflineRequested)
}

func (p *Policy) enterOfflineLocked() {
	p.stopGraceLocked()
	p.phase = PhaseOffline
}

// abandon ends the multiplayer sessions and publishes their offers. It runs
// without p.mu: ending a session waits for the operation holding it.
func (p *Policy) abandon(reason model.EndReason) {
	for _, a := range p.sessions.AbandonMultiplayer(context.Background(), reason) {
		if a.Local.ID == "" {
			continue
		}
		o := Offer{Variant: a.Session.Variant, Player: a.Local, From: a.Session.ID, Reason: reason}
		select {
		case p.offers <- o:
		default:
			p.log.Warn("offer dropped, nobody is reading offers", zap.String("session", o.From))
		}
	}
}

// Phase returns the current phase.
func (p *Policy) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Offers delivers local replacements for abandoned sessions.
func (p *Policy) Offers() <-chan Offer {
	return p.offers
}

// Accept starts the local session an offer proposes.
func (p *Policy) Accept(ctx context.Context, o Offer) (model.Session, error) {
	s, err := p.sessions.Create(ctx, o.Variant, model.ModeLocal, o.Player)
	if err != nil {
		return model.Session{}, err
	}
	p.log.Info("offline session started", zap.String("id", s.ID), zap.String("replaces", o.From))
	return s, nil
}

func (p *Policy) stopGrace() {
	p.mu.Lock()
	p.stopGraceLocked()
	p.mu.Unlock()
}

func (p *Policy) stopGraceLocked() {
	p.gen++
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
}
