package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"foxden/internal/checker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically re-check every stored proxy",
	Long: `Run in the foreground and re-check every stored proxy on an
interval, keeping their status and latency fresh. Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := appInstance.Settings.CheckInterval
		if cmd.Flags().Changed("interval") {
			interval, _ = cmd.Flags().GetDuration("interval")
		}
		if interval < time.Minute {
			return fmt.Errorf("interval must be at least one minute")
		}

		scheduler, err := checker.NewScheduler(appInstance.Checker, appInstance.Storage, interval)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := scheduler.Start(ctx); err != nil {
			return err
		}

		fmt.Printf("Watching proxies every %s. Press Ctrl+C to stop.\n", interval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping...")
		cancel()
		return scheduler.Stop()
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "override the check interval")
}
