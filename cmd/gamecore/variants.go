package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gamecore/internal/catalog"
	"gamecore/internal/game"
	"gamecore/internal/roomapi"
)

var flagRemote bool

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List available game variants",
	Long: `Shows the variants this build can play. With --remote, lists the
variants offered by the configured relay instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		infos := catalog.Registry().List()
		if flagRemote {
			tokens, err := tokenProvider()
			if err != nil {
				return err
			}
			api, err := roomapi.New(cfg.Relay.URL, tokens)
			if err != nil {
				return err
			}
			if infos, err = api.Variants(cmd.Context()); err != nil {
				return err
			}
		}
		return printVariants(cmd, infos)
	},
}

func init() {
	variantsCmd.Flags().BoolVar(&flagRemote, "remote", false, "List the relay's variants")
}

func printVariants(cmd *cobra.Command, infos []game.Info) error {
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No variants available.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tPLAYERS")
	for _, info := range infos {
		players := fmt.Sprint(info.MinPlayers)
		if info.MaxPlayers != info.MinPlayers {
			players = fmt.Sprintf("%d-%d", info.MinPlayers, info.MaxPlayers)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, info.Title, players)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nRun 'gamecore play <name>' to play.")
	return nil
}
