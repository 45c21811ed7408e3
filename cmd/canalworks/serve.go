package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/seed"
	"github.com/matthewbaird/canalworks/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and form sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.loadRules()
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			a.logger.Info("database migrated")

			if a.cfg.SeedOnStart {
				if _, err := seed.Hierarchies(ctx, st, seed.Default(), a.logger.Named("seed")); err != nil {
					return err
				}
			}

			a.logger.Info("rollback policy", zap.String("policy", a.cfg.RollbackPolicy))
			return server.Run(ctx, server.Config{
				App:    a.cfg,
				Store:  st,
				Rules:  r,
				Logger: a.logger,
			})
		},
	}
}
