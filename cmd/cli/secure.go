package cli

import (
	"github.com/spf13/cobra"

	"github.com/privtrain/privtrain/internal/aggregate"
	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/core/models"
	"github.com/privtrain/privtrain/internal/secure"
	"github.com/privtrain/privtrain/pkg/logger"
)

var secureWorkerCount int

var secureCmd = &cobra.Command{
	Use:   "secure",
	Short: "Run training with encrypted aggregation",
	Long:  `Trains across workers in fixed windows; model copies are combined under CKKS encryption and only the averaged result is ever revealed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// MSE: likelihood losses are not computable under the secure
		// representation.
		return runSession("secure", models.LossMSE, secureWorkerCount,
			func(cfg *config.Config) (aggregate.Aggregator, error) {
				vault, err := secure.NewVault(cfg.Secure.LogN, cfg.Secure.LogScale)
				if err != nil {
					return nil, err
				}
				cliLog := logger.WithComponent("cli")
				cliLog.Info().
					Uint("precision_bits", vault.Precision()).
					Msg("Secure aggregation vault ready")
				return aggregate.NewSecureAvg(vault), nil
			})
	},
}

func init() {
	secureCmd.Flags().IntVar(&secureWorkerCount, "workers", 2, "in-process worker count")
}
