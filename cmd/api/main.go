package main

import (
	"fmt"
	"os"

	"assetflow/internal/config"
	"assetflow/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// @title           Asset Request Workflow API
// @version         1.0
// @description     Field asset requests, two-stage approval and deployment tracking.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var (
	envFile string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "assetflow",
	Short:         "Asset request workflow service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		log, err = logger.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "configs/.env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
