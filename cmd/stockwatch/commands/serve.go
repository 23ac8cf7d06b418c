package commands

import (
	"context"
	"log/slog"

	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/serviceutil"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/pipeline"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Polls tracked sites on a schedule, delivers notifications and serves the admin api.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(serve)(cmd.Context())
	},
}

func serve(ctx context.Context, a *app) error {
	otel, err := telemetry.Setup(ctx, "stockwatch", a.cfg.Otlp)
	if err != nil {
		return err
	}
	defer otel.Shutdown(context.Background())

	telemetry.InstrumentPerfStats(ctx, a.tel)

	cron := chrono.NewStandardCron(ctx, a.tel)
	err = cron.Cron(a.cfg.Poll.Cron, func() {
		report, err := a.pipeline.RunCycle(ctx)
		if err != nil {
			return
		}
		events := 0
		for _, count := range report.Events {
			events += count
		}
		slog.Info(
			"poll cycle finished",
			"sites", report.Sites,
			"failed", len(report.Failed),
			"events", events,
		)
	})
	if err != nil {
		return err
	}
	if a.cfg.Status.Cron != "" {
		err = cron.Cron(a.cfg.Status.Cron, func() {
			count, _ := a.pipeline.StatusUpdate(ctx)
			slog.Info("status update queued", "items", count)
		})
		if err != nil {
			return err
		}
	}

	go a.dispatcher.Run(ctx)

	handler := pipeline.NewAdminHandler(a.pipeline, a.registry, a.cfg.Admin.Token, a.tel)
	return serviceutil.StartHttpServer(ctx, a.cfg.Admin.Port, handler)
}
