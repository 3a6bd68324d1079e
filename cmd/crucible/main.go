package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/execlog"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
)

var verboseFlag bool

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - sandboxed execution core for untrusted programs",
	Long: `Crucible executes untrusted programs inside locked-down Docker containers.

It has two modes: judging a candidate program against ordered test cases
in a single container run, and executing a long-lived scaffold program
that streams output as it works.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verboseFlag {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// app bundles everything a run needs: config, history store, log writer,
// and the runner wired to the Docker sandbox.
type app struct {
	cfg    *config.Config
	store  storage.Store
	runner *runner.Runner
	log    *zap.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	sb := sandbox.NewDockerSandbox(cfg.Policy())
	logs := execlog.NewWriter(cfg.Logs.Dir)

	return &app{
		cfg:    cfg,
		store:  store,
		runner: runner.New(sb, logs, store, log),
		log:    log,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

// checkRuntime verifies the Docker daemon is reachable and the needed
// images are present, and removes any containers left over from crashed
// runs.
func checkRuntime(ctx context.Context, log *zap.Logger, images ...string) error {
	rt, err := sandbox.NewRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Check(ctx, images...); err != nil {
		return err
	}
	if n, err := rt.ReapStale(ctx); err != nil {
		log.Warn("reaping stale containers", zap.Error(err))
	} else if n > 0 {
		log.Info("removed stale containers", zap.Int("count", n))
	}
	return nil
}
