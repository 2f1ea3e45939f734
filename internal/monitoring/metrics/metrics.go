package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "privtrain",
		Name:      "batches_processed_total",
		Help:      "Training batches processed by the local step executor.",
	})

	RoundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "privtrain",
		Name:      "rounds_completed_total",
		Help:      "Federation windows completed, including aggregation.",
	})

	AggregationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "privtrain",
		Name:      "aggregations_total",
		Help:      "Model aggregations performed.",
	})

	RevealsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "privtrain",
		Name:      "reveals_total",
		Help:      "Disclosure boundary crossings (loss logging, aggregate reveal, evaluation).",
	})

	ExhaustionEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "privtrain",
		Name:      "exhaustion_events_total",
		Help:      "Rounds terminated early because a worker ran out of data.",
	})
)

// Handler exposes the process metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
