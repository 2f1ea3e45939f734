package cli

import (
	"github.com/spf13/cobra"

	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/utils/errorutil"
	"github.com/privtrain/privtrain/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "privtrain",
	Short: "Privacy-preserving training round orchestration",
	Long:  `Federated averaging and encrypted-aggregation training across local or networked workers`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init()
		if configPath != "" {
			config.GetConfigManager().SetConfigPath(configPath)
		}
	},
}

func Execute() {
	errorutil.HandleFatal(logger.WithComponent("cli"), rootCmd.Execute(), "Command failed")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to .env config file")
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(secureCmd)
	rootCmd.AddCommand(workerCmd)
}
