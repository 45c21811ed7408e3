// Command canalworks runs the work package service and its tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/config"
	"github.com/matthewbaird/canalworks/internal/logging"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/store"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "canalworks",
		Short: "Work package creation and reconciliation service",
		Long: `canalworks records irrigation work packages: the work itself, its
beneficiary demographics, the villages it covers and its cost components.

Configuration comes from the environment (PORT, DATABASE_URL, LOG_LEVEL,
RULES_FILE, ROLLBACK_POLICY, GATEWAY_URL, ACTOR, ...).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.AddCommand(a.serveCmd(), a.migrateCmd(), a.seedCmd(), a.submitCmd())
	return root
}

// openStore connects to the configured database and brings its schema up
// to date.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, a.cfg.DatabaseURL, a.logger.Named("store"))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// loadRules reads RULES_FILE when set and the embedded table otherwise.
func (a *app) loadRules() (*rules.Rules, error) {
	if a.cfg.RulesFile == "" {
		return rules.Default()
	}
	r, err := rules.Load(a.cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading rules %s: %w", a.cfg.RulesFile, err)
	}
	return r, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
