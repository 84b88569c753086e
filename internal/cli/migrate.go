package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(context.Background())
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Fprintf(os.Stdout, "Database ready at %s\n", cfg.DBPath)
		return nil
	},
}
