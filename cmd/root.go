package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "territory-cli",
	Short: "Service territory resolution engine",
	Long:  "Maps 5-digit ZIP codes to authoritative service territories by reconciling grid operator, regulator, and utility lookups with confidence-weighted conflict resolution.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
