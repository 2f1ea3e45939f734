package cli

import (
	"github.com/spf13/cobra"

	"github.com/privtrain/privtrain/internal/aggregate"
	"github.com/privtrain/privtrain/internal/core/config"
	"github.com/privtrain/privtrain/internal/core/models"
)

var trainWorkerCount int

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run federated averaging training",
	Long:  `Trains across workers in fixed windows, averaging the plaintext model copies after every window`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession("federated", models.LossCrossEntropy, trainWorkerCount,
			func(cfg *config.Config) (aggregate.Aggregator, error) {
				return aggregate.NewFedAvg(), nil
			})
	},
}

func init() {
	trainCmd.Flags().IntVar(&trainWorkerCount, "workers", 3, "in-process worker count (ignored when FEDERATION_WORKERS is set)")
}
