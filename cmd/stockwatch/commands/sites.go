package commands

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	sitesCmd.AddCommand(sitesAddCmd, sitesListCmd, sitesRemoveCmd)
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manages the tracked sites.",
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Tracks storefronts or single product pages.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, site := range args {
				normalized, added, err := a.registry.Add(ctx, site)
				if err != nil {
					return err
				}
				if added {
					fmt.Printf("tracking %s\n", normalized)
				} else {
					fmt.Printf("already tracking %s\n", normalized)
				}
			}
			return nil
		})(cmd.Context())
	},
}

var sitesRemoveCmd = &cobra.Command{
	Use:   "remove <url>...",
	Short: "Stops tracking sites, their snapshots are kept.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, site := range args {
				removed, err := a.registry.Remove(ctx, site)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Printf("%s was not tracked\n", site)
				}
			}
			return nil
		})(cmd.Context())
	},
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every tracked site.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			registered, err := a.registry.List(ctx)
			if err != nil {
				return err
			}
			fromRegistry := map[string]bool{}
			for _, site := range registered {
				fromRegistry[site] = true
			}

			sites, err := a.pipeline.Sites(ctx)
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"Site", "Source"})
			for _, site := range sites {
				source := "config"
				if fromRegistry[site] {
					source = "registry"
				}
				t.AppendRow(table.Row{site, source})
			}
			t.Render()
			return nil
		})(cmd.Context())
	},
}
