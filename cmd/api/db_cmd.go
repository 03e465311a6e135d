package main

import (
	"errors"

	"assetflow/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewConnection(cfg.Database, log)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	},
}

var seedReset bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample users and distributors",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewConnection(cfg.Database, log)
		if err != nil {
			return err
		}
		if err := database.Seed(db, seedReset); err != nil {
			if errors.Is(err, database.ErrAlreadySeeded) {
				log.Warn("database already has users, pass --reset to replace them")
				return nil
			}
			return err
		}
		log.Info("sample data loaded", zap.Bool("reset", seedReset))
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedReset, "reset", false, "delete existing requests, users and distributors first")
}
