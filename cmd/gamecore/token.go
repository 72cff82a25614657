package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gamecore/internal/auth"
)

var flagDisplayName string

var tokenCmd = &cobra.Command{
	Use:   "token <player-id>",
	Short: "Issue a relay token for a player",
	Long: `Signs a player token with auth.secret. Hand it to the player, who
sets it as relay.token (or GAMECORE_RELAY_TOKEN).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.Secret == "" {
			return errors.New("auth.secret is not configured")
		}
		signer, err := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		name := flagDisplayName
		if name == "" {
			name = args[0]
		}
		tok, err := signer.Issue(args[0], name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagDisplayName, "name", "", "Display name (defaults to the player id)")
}
