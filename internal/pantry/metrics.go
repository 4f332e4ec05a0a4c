package pantry

import "github.com/prometheus/client_golang/prometheus"

var (
	// itemsGauge reports the size of the pantry after the last load or write.
	itemsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pantry_items",
			Help: "Number of items currently in the pantry.",
		},
	)

	// mergeRows counts receipt rows by what the merge did with them.
	mergeRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pantry_merge_rows_total",
			Help: "Rows processed by pantry merges, by outcome (inserted, merged, skipped).",
		},
		[]string{"outcome"},
	)

	// decodeErrors counts reads that found a slot that is not a JSON array.
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pantry_slot_decode_errors_total",
			Help: "Slot reads that could not be decoded and were treated as an empty pantry.",
		},
	)
)

func init() {
	prometheus.MustRegister(itemsGauge, mergeRows, decodeErrors)
}
