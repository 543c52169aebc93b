package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jra3/groupcore/internal/config"
	"github.com/jra3/groupcore/internal/syncc"
	"github.com/spf13/cobra"
)

var watch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Accept pending welcomes and sync every active group",
	Long: `sync accepts any welcomes addressed to this installation and runs
one publish/fetch/process cycle for every active group. With --watch it
keeps running on the interval configured in sync.interval until
interrupted.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep syncing on a schedule instead of running once")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}
	defer client.Close()

	ctx := context.Background()

	if !watch {
		if err := client.SyncWelcomesAndGroups(ctx); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		fmt.Println("Sync complete.")
		return nil
	}

	client.StartBackgroundSync(ctx, syncc.WorkerConfig{Interval: cfg.Sync.Interval})
	fmt.Println("Syncing in the background. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nStopping sync...")
	client.StopBackgroundSync()

	return nil
}
