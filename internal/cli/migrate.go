package cli

import (
	"github.com/spf13/cobra"

	"github.com/nikhil/eavenchat/internal/database"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the chat tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, dialect, err := database.Open(cfg.DBDriver, cfg.DSN(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(background(cmd), db, dialect); err != nil {
				return err
			}
			log.Info("Schema is up to date", "driver", dialect.Name)
			return nil
		},
	}
}
