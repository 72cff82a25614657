package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"gamecore/internal/ai"
	"gamecore/internal/auth"
	"gamecore/internal/catalog"
	"gamecore/internal/game"
	"gamecore/internal/model"
	"gamecore/internal/reconcile"
	"gamecore/internal/record"
	"gamecore/internal/roomapi"
	"gamecore/internal/session"
	"gamecore/internal/storage"
	"gamecore/internal/transport"
)

// app is the client side of gamecore: the session manager and, when
// online, the relay connection and reconciliation policy feeding it.
type app struct {
	variants  *game.Registry
	kv        *storage.Store
	store     *record.Store
	mgr       *session.Manager
	api       *roomapi.Client
	transport *transport.Adapter
	policy    *reconcile.Policy
	updates   chan model.Session

	cancel context.CancelFunc
}

// openApp wires the client. With online set it connects to relay.url and
// starts reconciliation; otherwise multiplayer operations are unavailable.
func openApp(ctx context.Context, online bool) (*app, error) {
	kv, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{
		variants: catalog.Registry(),
		kv:       kv,
		updates:  make(chan model.Session, 64),
	}
	a.store = record.New(kv, a.variants, record.Config{
		Namespace:    cfg.Storage.Namespace,
		MaxTries:     uint(cfg.Storage.MaxTries),
		RetryInitial: cfg.Storage.RetryInitial,
		RetryMax:     cfg.Storage.RetryMax,
	}, logger.Named("record"))

	seed := cfg.Session.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	deps := session.Deps{
		Variants: a.variants,
		Store:    a.store,
		AI:       ai.NewEngine(a.variants, catalog.Opponents(), seed, logger.Named("ai")),
		Notify:   a.publish,
	}

	ctx, a.cancel = context.WithCancel(ctx)
	if online {
		if err := a.connect(ctx); err != nil {
			a.Close()
			return nil, err
		}
		deps.Rooms = a.api
		deps.Transport = a.transport
	}

	a.mgr = session.NewManager(deps, session.Config{
		ThinkDelay:    cfg.Session.ThinkDelay,
		AIDisplayName: cfg.Session.AIDisplayName,
		Seed:          cfg.Session.Seed,
		SendTimeout:   cfg.Relay.SendTimeout,
	}, logger.Named("session"))

	if _, err := a.mgr.Restore(ctx); err != nil {
		logger.Warn("restore sessions", zap.Error(err))
	}
	if a.transport != nil {
		a.policy = reconcile.New(a.mgr, reconcile.Config{Grace: cfg.Relay.Grace}, logger.Named("reconcile"))
		go a.policy.Run(ctx, a.transport.Events())
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	if cfg.Relay.URL == "" {
		return errors.New("relay.url is not configured")
	}
	tokens, err := tokenProvider()
	if err != nil {
		return err
	}
	a.api, err = roomapi.New(cfg.Relay.URL, tokens)
	if err != nil {
		return err
	}
	a.transport = transport.New(transport.Config{
		URL:              a.api.WebSocketURL(),
		Tokens:           tokens,
		ReconnectInitial: cfg.Relay.ReconnectInitial,
		ReconnectMax:     cfg.Relay.ReconnectMax,
		DialTimeout:      cfg.Relay.DialTimeout,
	}, logger.Named("transport"))
	return a.transport.Start(ctx)
}

// tokenProvider prefers a configured token and falls back to signing one
// locally when the relay secret is shared.
func tokenProvider() (auth.TokenProvider, error) {
	if cfg.Relay.Token != "" {
		return auth.StaticToken(cfg.Relay.Token), nil
	}
	if cfg.Auth.Secret == "" {
		return nil, errors.New("set relay.token or auth.secret to play online")
	}
	signer, err := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	return signer.Provider(cfg.Player.ID, cfg.Player.DisplayName), nil
}

// publish runs under the session lock, so it never blocks.
func (a *app) publish(s model.Session) {
	select {
	case a.updates <- s:
	default:
		logger.Debug("update dropped", zap.String("session", s.ID))
	}
}

func (a *app) me() model.Player {
	return model.Player{ID: cfg.Player.ID, DisplayName: cfg.Player.DisplayName}
}

func (a *app) Close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
	if a.transport != nil {
		a.transport.Close()
	}
	a.cancel()
	if err := a.kv.Close(); err != nil {
		logger.Warn("close storage", zap.Error(err))
	}
}
