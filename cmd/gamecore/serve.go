package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gamecore/internal/auth"
	"gamecore/internal/catalog"
	"gamecore/internal/server"
	"gamecore/internal/storage"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay backend",
	Long: `Runs the relay that hosts multiplayer rooms. Rooms are kept in
server.db_path and restored on restart; stale rooms are cleaned up every
server.cleanup_interval.

Players need a token signed with auth.secret; see 'gamecore token'.

Examples:
  GAMECORE_AUTH_SECRET=... gamecore serve
  gamecore serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is required to serve")
	}
	addr := cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	signer, err := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	kv, err := storage.New(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer kv.Close()

	ctx := cmd.Context()
	reg := catalog.Registry()
	rooms := server.NewRooms(reg, kv, cfg.Session.Seed, logger.Named("rooms"))
	if _, err := rooms.Restore(ctx); err != nil {
		logger.Warn("restore rooms", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(reg, rooms, signer, logger.Named("server")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rooms.CleanupLoop(ctx, cfg.Server.CleanupInterval, cfg.Server.RoomMaxAge)
		return nil
	})
	g.Go(func() error {
		logger.Info("relay listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("relay shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
