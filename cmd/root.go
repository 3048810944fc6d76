package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"constellation-sync/config"
	"constellation-sync/mirror"
	"constellation-sync/models"
	"constellation-sync/sites"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "CONSTELLATION_LOG_VERBOSE"

const defaultEnvFile = ".env"

type siteLister interface {
	ListSites(ctx context.Context) ([]models.Site, error)
	Close() error
}

// Overridden in tests.
var (
	openRepository = func(ctx context.Context, dbCfg config.Database, syncCfg config.Sync) (siteLister, error) {
		return sites.Open(ctx, dbCfg, syncCfg)
	}
	newRunner = func() mirror.Runner {
		return mirror.NewExecRunner()
	}
)

// Execute runs the sync and exits non-zero if it couldn't be completed.
func Execute() {
	if err := New().Execute(); err != nil {
		log.WithError(err).Fatal("Sync aborted")
	}
}

// New creates the root command.
func New() *cobra.Command {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:   "constellation-sync",
		Short: "Mirror the local web root to every host in the constellation table",
		Args:  cobra.NoArgs,

		// Errors are logged by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,

		// The environment file may enable verbose logging, so it's loaded
		// before the log level is set.
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			loadEnv(envFile, cmd.Flags().Changed("env-file"))
			if os.Getenv(verboseLogKey) == "true" {
				log.SetLevel(log.DebugLevel)
			}
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dbCfg, syncCfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return syncOnce(ctx, dbCfg, syncCfg, cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath,
		"path to the INI file with the [database] settings")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile,
		"optional file of environment variables")
	cmd.AddCommand(newWatchCommand(&configPath))
	return cmd
}

func loadEnv(path string, explicit bool) {
	if err := godotenv.Load(path); err != nil {
		entry := log.WithError(err).WithField("path", path)
		if explicit {
			entry.Warn("Environment file not loaded, using default settings")
		} else {
			entry.Debug("Environment file not loaded, using default settings")
		}
	}
}

func loadConfig(configPath string) (config.Database, config.Sync, error) {
	dbCfg, err := config.LoadDatabase(configPath)
	if err != nil {
		return dbCfg, config.Sync{}, errors.Wrap(err, "load database config")
	}
	if err := dbCfg.Validate(); err != nil {
		return dbCfg, config.Sync{}, err
	}

	syncCfg, err := config.LoadSync(configPath)
	if err != nil {
		return dbCfg, syncCfg, errors.Wrap(err, "load sync config")
	}
	return dbCfg, syncCfg, nil
}

// syncOnce fetches the sites and runs the sync command for each of them.
func syncOnce(ctx context.Context, dbCfg config.Database, syncCfg config.Sync, out io.Writer) error {
	siteList, err := fetchSites(ctx, dbCfg, syncCfg)
	if err != nil {
		return err
	}

	opts := []mirror.Option{mirror.WithCommandTimeout(syncCfg.CommandTimeout)}
	if syncCfg.Probe.Enabled {
		probe, err := mirror.NewSSHProbe(syncCfg.Probe, syncCfg.RemoteUser)
		if err != nil {
			log.WithError(err).Warn("SSH probe disabled")
		} else {
			opts = append(opts, mirror.WithProber(probe))
		}
	}

	dispatcher := mirror.NewDispatcher(mirror.TemplateFromConfig(syncCfg), newRunner(), out, opts...)
	report, err := dispatcher.Dispatch(ctx, siteList)
	log.WithFields(log.Fields{
		"sites":      len(siteList),
		"dispatched": report.Dispatched,
		"failed":     report.Failed,
	}).Info("Sync finished")
	if err != nil {
		return errors.Wrap(err, "dispatch")
	}
	return nil
}

// fetchSites reads every site and releases the connection before any sync
// starts.
func fetchSites(ctx context.Context, dbCfg config.Database, syncCfg config.Sync) ([]models.Site, error) {
	repo, err := openRepository(ctx, dbCfg, syncCfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.WithError(err).Debug("Failed to close database connection")
		}
	}()

	siteList, err := repo.ListSites(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sites")
	}
	return siteList, nil
}
