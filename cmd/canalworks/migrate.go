package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/canalworks/internal/seed"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [hierarchy.yaml]",
		Short: "Load zones, circles, divisions and the component catalog",
		Long: `Inserts every hierarchy node that is not already present. Without a file
the built-in hierarchy is loaded. Running it twice creates nothing new.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := seed.Default()
			if len(args) == 1 {
				src, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if doc, err = seed.Parse(src); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := seed.Hierarchies(ctx, st, doc, a.logger.Named("seed"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, existing %d\n", res.Created, res.Existing)
			return nil
		},
	}
}
