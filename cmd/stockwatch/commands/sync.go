package commands

import (
	"context"
	"fmt"
	"sort"

	"stockwatch/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	syncSite    *string
	syncDeliver *bool
)

func init() {
	syncSite = syncCmd.Flags().String("site", "", "Only sync this site, it does not need to be tracked.")
	syncDeliver = syncCmd.Flags().Bool("deliver", false, "Deliver queued notifications after syncing.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [--site <url>] [--deliver]",
	Short: "Runs a single poll cycle.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runSync)(cmd.Context())
	},
}

func runSync(ctx context.Context, a *app) error {
	t := newTable()
	t.AppendHeader(table.Row{"Site", "Observed", "Events", "Removed", "Failed", "Note"})

	if *syncSite != "" {
		site, err := pipeline.NormalizeSite(*syncSite)
		if err != nil {
			return err
		}
		report, err := a.pipeline.SyncSite(ctx, site)
		if err != nil {
			return err
		}
		note := ""
		if report.SuspectedFetchFailure {
			note = "empty poll, nothing removed"
		}
		t.AppendRow(table.Row{site, report.Observed, len(report.Events), report.Removed, report.Failed, note})
	} else {
		cycle, err := a.pipeline.RunCycle(ctx)
		if err != nil {
			return err
		}
		sort.Slice(cycle.Reports, func(i, j int) bool {
			return cycle.Reports[i].Source < cycle.Reports[j].Source
		})
		for _, report := range cycle.Reports {
			note := ""
			if report.SuspectedFetchFailure {
				note = "empty poll, nothing removed"
			}
			t.AppendRow(table.Row{report.Source, report.Observed, len(report.Events), report.Removed, report.Failed, note})
		}
		for _, site := range cycle.Failed {
			t.AppendRow(table.Row{site, "-", "-", "-", "-", "source unavailable"})
		}
	}
	t.Render()

	if *syncDeliver {
		delivered, err := a.dispatcher.DeliverOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("delivered %d notifications\n", delivered)
	}
	return nil
}
