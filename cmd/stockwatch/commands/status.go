package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusDeliver *bool

func init() {
	statusDeliver = statusCmd.Flags().Bool("deliver", false, "Deliver queued notifications right away.")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [--deliver]",
	Short: "Queues a status check for every item in stock.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			count, err := a.pipeline.StatusUpdate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("queued %d status checks\n", count)

			if *statusDeliver {
				delivered, err := a.dispatcher.DeliverOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("delivered %d notifications\n", delivered)
			}
			return nil
		})(cmd.Context())
	},
}
