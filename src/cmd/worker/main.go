package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"ticketing/src/boot"
	"ticketing/src/config"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "Background jobs for the ticketing core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(oneShot("sweep", "Expire PENDING payments past their TTL", func(ctx context.Context, app *boot.App) error {
		n, err := app.Core.Payments.ExpireStale(ctx)
		log.Printf("[Worker] Expired %d payments\n", n)
		return err
	}))
	rootCmd.AddCommand(oneShot("reconcile", "Re-query providers for unsettled payments", func(ctx context.Context, app *boot.App) error {
		report, err := app.Core.Payments.Reconcile(ctx)
		if report != nil {
			fmt.Printf("checked=%d updated=%d repaired=%d notified=%d errors=%d\n",
				report.Checked, report.Updated, report.Repaired, report.Notified, report.Errors)
		}
		return err
	}))
	rootCmd.AddCommand(oneShot("cleanup", "Delete notifications older than a week", func(ctx context.Context, app *boot.App) error {
		n, err := app.Core.Campaigns.CleanupNotifications(ctx)
		log.Printf("[Worker] Deleted %d notifications\n", n)
		return err
	}))
	rootCmd.AddCommand(oneShot("reminders", "Queue SMS reminders for events in the next 24 hours", func(ctx context.Context, app *boot.App) error {
		n, err := app.Core.Campaigns.SendReminders(ctx)
		log.Printf("[Worker] Queued %d reminders\n", n)
		return err
	}))
	rootCmd.AddCommand(oneShot("promos", "Queue today's partner promotions", func(ctx context.Context, app *boot.App) error {
		n, err := app.Core.Campaigns.SendPromotions(ctx)
		log.Printf("[Worker] Queued %d promotion messages\n", n)
		return err
	}))
	rootCmd.AddCommand(oneShot("jobs", "Run every due job once", func(ctx context.Context, app *boot.App) error {
		n, err := app.Core.Dispatcher.ProcessDue(ctx)
		log.Printf("[Worker] Ran %d jobs\n", n)
		return err
	}))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initApp(ctx context.Context) (*boot.App, error) {
	cfg := config.Load()
	app, err := boot.Init(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return app, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and queue consumers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			sched, err := boot.InitScheduler(app)
			if err != nil {
				return err
			}
			defer boot.StopScheduler(sched)

			log.Println("[Worker] Running")
			err = boot.InitConsumers(ctx, app)
			log.Println("[Worker] Draining")
			return err
		},
	}
}

func oneShot(use, short string, run func(ctx context.Context, app *boot.App) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := initApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return run(cmd.Context(), app)
		},
	}
}
