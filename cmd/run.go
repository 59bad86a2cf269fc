// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/artifacts"
	"github.com/xkilldash9x/layout-breaker/internal/browser"
	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/engine"
	"github.com/xkilldash9x/layout-breaker/internal/observability"
	"github.com/xkilldash9x/layout-breaker/internal/store"
	"github.com/xkilldash9x/layout-breaker/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// runDeps are the collaborators a run is built from.
type runDeps struct {
	newDriver func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (browser.Driver, error)
	openStore func(ctx context.Context, url string, logger *zap.Logger) (store.Store, error)
	now       func() time.Time
}

func defaultRunDeps() runDeps {
	return runDeps{
		newDriver: browser.NewDriver,
		openStore: store.Open,
		now:       time.Now,
	}
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(deps runDeps) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [sites...]",
		Short: "Visits the sites and captures manipulated containers",
		Long: `Visits every site at every configured viewport once per manipulation. Each
task selects the containers of the page, applies the manipulation to them one
at a time and writes a screenshot for every container that broke.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			sites, err := resolveSites(cfg, args)
			if err != nil {
				return err
			}

			executionID, err := runLayoutBreaker(ctx, cfg, sites, logger, deps)
			if executionID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Execution ID: %s\n", executionID)
			}
			return err
		},
	}

	flags := runCmd.Flags()
	flags.StringSliceP("manipulations", "m", nil, "Manipulations to apply: untouched, overflow, overlap. (Overrides config/env)")
	annotate(flags, "manipulations", "run.manipulations")
	flags.IntSliceP("container-indexes", "i", nil, "Only process the containers at these indexes. (Overrides config/env)")
	annotate(flags, "container-indexes", "run.container_indexes")
	flags.StringP("folder", "f", "", "Base folder for the screenshots. (Overrides config/env)")
	annotate(flags, "folder", "run.folder")
	flags.BoolP("debug", "d", false, "Visible browser and a single worker. (Overrides config/env)")
	annotate(flags, "debug", "browser.debug")
	flags.IntP("concurrency", "j", 0, "Number of concurrent tasks. (Overrides config/env)")
	annotate(flags, "concurrency", "engine.worker_concurrency")
	flags.String("driver", "", "Browser driver: chromedp or rod. (Overrides config/env)")
	annotate(flags, "driver", "browser.driver")
	flags.String("sites-file", "", "YAML file listing the sites to visit. (Overrides config/env)")
	annotate(flags, "sites-file", "run.sites_file")
	flags.Uint64("seed", 0, "Seed of the random source; 0 seeds from the clock. (Overrides config/env)")
	annotate(flags, "seed", "run.seed")

	return runCmd
}

// resolveSites merges the command line sites, the configured sites and the
// sites file, then validates them.
func resolveSites(cfg *config.Config, args []string) ([]string, error) {
	var fromFile []string
	if cfg.Run.SitesFile != "" {
		var err error
		if fromFile, err = config.LoadSites(cfg.Run.SitesFile); err != nil {
			return nil, err
		}
	}
	sites := config.MergeSites(args, cfg.Run.Sites, fromFile)
	if err := config.ValidateSites(sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// runLayoutBreaker wires the store, the browser, the worker and the task
// engine, and runs every task. It returns the execution id once one was issued.
func runLayoutBreaker(ctx context.Context, cfg *config.Config, sites []string, logger *zap.Logger, deps runDeps) (string, error) {
	kinds, err := cfg.Kinds()
	if err != nil {
		return "", err
	}

	executionID := artifacts.NewExecutionID(deps.now())
	layout, err := artifacts.NewLayout(cfg.Run.Folder, executionID)
	if err != nil {
		return "", err
	}

	logger.Info("Starting scraping execution",
		zap.String("execution_id", executionID),
		zap.Bool("debug", cfg.Browser.Debug),
		zap.Strings("sites", sites),
		zap.Strings("manipulations", cfg.Run.Manipulations),
		zap.Ints("container_indexes", cfg.Run.ContainerIndexes),
		zap.String("folder", layout.Root),
		zap.String("driver", cfg.Browser.Driver))

	st, err := deps.openStore(ctx, cfg.Store.URL, logger)
	if err != nil {
		return executionID, fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Error closing store", zap.Error(err))
		}
	}()

	driver, err := deps.newDriver(ctx, cfg, logger)
	if err != nil {
		return executionID, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := driver.Close(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	w, err := worker.NewLayoutWorker(cfg, driver, layout, logger)
	if err != nil {
		return executionID, fmt.Errorf("failed to create worker: %w", err)
	}
	taskEngine, err := engine.New(cfg.Engine, executionID, logger, st, w)
	if err != nil {
		return executionID, fmt.Errorf("failed to initialize task engine: %w", err)
	}

	tasks := engine.Plan(sites, cfg.Run.Viewports, kinds)
	// The feeder stops with the run, including when the workers abort early.
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	summary, err := taskEngine.Run(ctx, engine.Feed(feedCtx, tasks))

	logger.Info("END RUN",
		zap.String("execution_id", executionID),
		zap.Int("planned", len(tasks)),
		zap.Int("tasks", summary.Tasks),
		zap.Int("failed", summary.Failed),
		zap.Int("captures", summary.Captures))

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run aborted gracefully", zap.String("execution_id", executionID))
		}
		return executionID, err
	}
	return executionID, nil
}
