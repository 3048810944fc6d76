package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"constellation-sync/config"
	"constellation-sync/watch"
)

func newWatchCommand(configPath *string) *cobra.Command {
	var quiet time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-sync every site whenever the source directory changes",
		Long: "Watch the source directory tree and run the sync after changes have " +
			"settled for the quiet interval. Exits with an error if the source " +
			"directory is removed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dbCfg, syncCfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("quiet") {
				syncCfg.WatchQuiet = quiet
			}
			return watchSource(ctx, dbCfg, syncCfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&quiet, "quiet", config.DefaultWatchQuiet,
		"how long the tree must be unchanged before syncing (overrides SYNC_WATCH_QUIET)")
	return cmd
}

func watchSource(ctx context.Context, dbCfg config.Database, syncCfg config.Sync, out io.Writer) error {
	watcher, err := watch.New(syncCfg.Source)
	if err != nil {
		return errors.Wrapf(err, "watch %s", syncCfg.Source)
	}
	defer watcher.Close()

	log.WithFields(log.Fields{
		"source": syncCfg.Source,
		"quiet":  syncCfg.WatchQuiet,
	}).Info("Watching for changes")

	err = watcher.Run(ctx, syncCfg.WatchQuiet, func(ctx context.Context) {
		if err := syncOnce(ctx, dbCfg, syncCfg, out); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("Sync failed, waiting for the next change")
		}
	})
	if err != nil {
		return errors.Wrapf(err, "watch %s", syncCfg.Source)
	}
	return nil
}
