package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gamecore/internal/model"
	"gamecore/internal/session"
)

var (
	flagStatus  string
	flagVariant string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved local sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	Long: `List saved sessions, live ones first.

Examples:
  gamecore sessions list
  gamecore sessions list --status active
  gamecore sessions list --variant tictactoe`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		f := session.Filter{Status: model.Status(flagStatus), Variant: flagVariant}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVARIANT\tMODE\tSTATUS\tUPDATED")
		for s, err := range a.mgr.List(cmd.Context(), f) {
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Variant, s.Mode, s.Status, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		s, err := a.mgr.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		render(cmd.OutOrStdout(), a.variants, s, cfg.Player.ID)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete saved sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		for _, id := range args {
			if err := a.mgr.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
		}
		return nil
	},
}

var sessionsQuarantinedCmd = &cobra.Command{
	Use:   "quarantined",
	Short: "List session records that failed to load",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		ids, err := a.store.Quarantined(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&flagStatus, "status", "", "Only sessions with this status (waiting, active, finished)")
	sessionsListCmd.Flags().StringVar(&flagVariant, "variant", "", "Only sessions of this variant")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsQuarantinedCmd)
}
