package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/onboard-forms/internal/storage/postgres"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables for saved progress and session reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pg := cfg.Storage.Postgres
			if pg.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required")
			}
			pool, err := pgstore.Connect(cmd.Context(), pgstore.PoolConfig{DSN: pg.DSN, MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
