// gamecore plays turn-based games locally against the AI or through a
// relay backend, and runs that relay.
//
// Usage:
//
//	gamecore variants                 - List available game variants
//	gamecore play <variant>           - Play a local game against the AI
//	gamecore play <variant> --online  - Open a multiplayer room on the relay
//	gamecore join <room>              - Join a multiplayer room
//	gamecore sessions list            - List saved sessions
//	gamecore serve                    - Run the relay backend
//	gamecore token <player>           - Issue a player token
//
// Global flags:
//
//	--config <path>  - Config file (default: ./gamecore.yaml)
//	--player <id>    - Local player id, overrides player.id
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gamecore/internal/config"
	"gamecore/internal/logging"
)

var (
	flagConfig string
	flagPlayer string

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gamecore",
	Short: "Turn-based game sessions, locally or over a relay",
	Long: `gamecore runs turn-based game sessions. Local sessions are played
against the computer and saved after every move; multiplayer sessions are
relayed through a gamecore relay server.

Configuration is read from gamecore.yaml and GAMECORE_* environment
variables, e.g. GAMECORE_RELAY_URL=http://localhost:8080.

Examples:
  gamecore variants
  gamecore play tictactoe
  gamecore play connectfour --online
  gamecore join 3f9c2a1b
  gamecore serve`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagPlayer, "player", "", "Local player id (overrides player.id)")

	rootCmd.AddCommand(variantsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func setup(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagPlayer != "" {
		cfg.Player.ID = flagPlayer
	}
	logger, err = logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}
