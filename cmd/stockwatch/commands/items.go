package commands

import (
	"context"
	"fmt"
	"strings"

	"stockwatch/internal/inventory"
	"stockwatch/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	itemsSource    *string
	itemsThreshold *float64
)

func init() {
	itemsSource = itemsListCmd.Flags().String("source", "", "Only list items polled from this site.")
	itemsThreshold = itemsFindCmd.Flags().Float64("threshold", 0.75, "The minimum similarity score between 0 and 1.")
	itemsCmd.AddCommand(itemsListCmd, itemsFindCmd)
	rootCmd.AddCommand(itemsCmd)
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Shows the current snapshot of tracked items.",
}

func quantityCell(item inventory.Item) string {
	if item.QuantityMissing {
		return "?"
	}
	return fmt.Sprint(item.Quantity)
}

var itemsListCmd = &cobra.Command{
	Use:   "list [--source <url>]",
	Short: "Lists tracked items.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var (
				snapshots []store.Snapshot
				err       error
			)
			if *itemsSource != "" {
				snapshots, err = a.store.ListBySource(ctx, *itemsSource)
			} else {
				snapshots, err = a.store.List(ctx)
			}
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"ID", "Title", "Available", "Quantity", "Last Seen", "Link"})
			for _, snap := range snapshots {
				t.AppendRow(table.Row{
					snap.Item.ID,
					snap.Item.Title,
					snap.Item.Available,
					quantityCell(snap.Item),
					snap.LastSeen.Local().Format("2006-01-02 15:04"),
					snap.Item.Site,
				})
			}
			t.AppendFooter(table.Row{"", "", "", "", "Total", len(snapshots)})
			t.Render()
			return nil
		})(cmd.Context())
	},
}

var itemsFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Finds tracked items by title.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			snapshots, err := a.store.List(ctx)
			if err != nil {
				return err
			}
			items := make([]inventory.Item, len(snapshots))
			for i, snap := range snapshots {
				items[i] = snap.Item
			}

			matches := inventory.RankByTitle(strings.Join(args, " "), items, *itemsThreshold)
			if len(matches) == 0 {
				fmt.Println("no matching items")
				return nil
			}

			t := newTable()
			t.AppendHeader(table.Row{"Score", "Title", "Available", "Quantity", "Link"})
			for _, m := range matches {
				t.AppendRow(table.Row{
					fmt.Sprintf("%.2f", m.Score),
					m.Item.Title,
					m.Item.Available,
					quantityCell(m.Item),
					m.Item.Site,
				})
			}
			t.Render()
			return nil
		})(cmd.Context())
	},
}
