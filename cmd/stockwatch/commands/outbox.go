package commands

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	outboxLimit   *int
	outboxDeliver *bool
)

func init() {
	outboxLimit = outboxCmd.Flags().Int("limit", 50, "The maximum number of messages to show.")
	outboxDeliver = outboxCmd.Flags().Bool("deliver", false, "Run one delivery round before listing.")
	rootCmd.AddCommand(outboxCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox [--limit <n>] [--deliver]",
	Short: "Shows queued and dead lettered notifications.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if *outboxDeliver {
				delivered, err := a.dispatcher.DeliverOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("delivered %d notifications\n", delivered)
			}

			messages, err := a.outbox.List(ctx, *outboxLimit)
			if err != nil {
				return err
			}
			depth, err := a.outbox.Depth(ctx)
			if err != nil {
				return err
			}
			dead, err := a.outbox.DeadCount(ctx)
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"Seq", "Partition", "State", "Attempts", "Next Attempt", "Last Error", "Message"})
			for _, msg := range messages {
				state := "pending"
				if msg.Dead {
					state = "dead"
				}
				t.AppendRow(table.Row{
					msg.Seq,
					msg.PartitionKey,
					state,
					msg.Attempts,
					msg.NextAttemptAt.Local().Format("2006-01-02 15:04:05"),
					msg.LastError,
					msg.Body,
				})
			}
			t.AppendFooter(table.Row{"", "", "", "", "", "Pending", depth})
			t.AppendFooter(table.Row{"", "", "", "", "", "Dead", dead})
			t.Render()
			return nil
		})(cmd.Context())
	},
}
