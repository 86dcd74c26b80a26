// Package metrics holds the Prometheus collectors of the route controller
package metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ribPrefixes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bgp_controller_rib_prefixes",
		Help: "number of prefixes held in the routing table",
	}, []string{"family"})
	ribCandidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgp_controller_rib_candidates",
		Help: "number of candidate routes held in the routing table",
	})
	bestChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_controller_best_path_changes_total",
		Help: "best path changes by family and kind (new, replace, withdraw)",
	}, []string{"family", "kind"})
	codecEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_controller_codec_entries_total",
		Help: "route entries encoded or decoded",
	}, []string{"direction"})
	codecErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_controller_codec_errors_total",
		Help: "codec failures by reason",
	}, []string{"reason"})
	updateSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bgp_controller_update_frame_bytes",
		Help:    "size of encoded update frames",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
	fibOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgp_controller_fib_operations_total",
		Help: "kernel route operations by kind and result",
	}, []string{"op", "result"})
)

// SetRIBSize publishes the prefix count per family and the candidate total
func SetRIBSize(ipv4, ipv6, candidates int) {
	ribPrefixes.WithLabelValues("ipv4").Set(float64(ipv4))
	ribPrefixes.WithLabelValues("ipv6").Set(float64(ipv6))
	ribCandidates.Set(float64(candidates))
}

func BestPathChanged(family, kind string) {
	bestChanges.WithLabelValues(family, kind).Inc()
}

func EntriesEncoded(n int) {
	codecEntries.WithLabelValues("encode").Add(float64(n))
}

func EntriesDecoded(n int) {
	codecEntries.WithLabelValues("decode").Add(float64(n))
}

func UpdateFrame(size int) {
	updateSize.Observe(float64(size))
}

// CodecError counts err under the first matching reason
func CodecError(err error, reasons map[string]error) {
	for name, target := range reasons {
		if errors.Is(err, target) {
			codecErrors.WithLabelValues(name).Inc()
			return
		}
	}
	codecErrors.WithLabelValues("other").Inc()
}

func FIBOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fibOperations.WithLabelValues(op, result).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
