package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/keyword-rank-collector/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Database.DSN == "" {
				return errors.New("database.dsn is required")
			}
			if err := pgstore.Migrate(rt.cfg.Database.DSN, rt.cfg.Database.Table); err != nil {
				return err
			}
			rt.logger.Info("migrations applied")
			return nil
		},
	}
}
