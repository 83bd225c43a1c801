package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentivane/sentivane/sym"
)

// MigrateCmd applies pending database migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: sym.DB + " Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		// openDatabase already migrated; reaching here means success
		fmt.Printf("%s Database %s is up to date\n", sym.DB, cfg.Database.Path)
		return nil
	},
}
