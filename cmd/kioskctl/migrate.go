package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("Database is up to date.")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("Applied %s\n", name)
	}
	return nil
}
