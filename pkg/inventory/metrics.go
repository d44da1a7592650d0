package inventory

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus instruments for ledger operations.
// A nil *Metrics is valid and records nothing.
// 台帳操作のPrometheusメトリクス
type Metrics struct {
	mutations     *prometheus.CounterVec
	movedQuantity *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zailedger_mutations_total",
		Help: "Counts registry and ledger mutations by entity, operation and result.",
	}, []string{"entity", "operation", "result"})

	movedQuantity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zailedger_moved_quantity_total",
		Help: "Sum of quantities recorded in new movements by movement kind.",
	}, []string{"kind"})

	queryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zailedger_query_duration_seconds",
		Help:    "Latency of balance and listing queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	if reg != nil {
		reg.MustRegister(mutations, movedQuantity, queryDuration)
	}

	return &Metrics{
		mutations:     mutations,
		movedQuantity: movedQuantity,
		queryDuration: queryDuration,
	}
}

func (m *Metrics) observeMutation(entity EntityKind, operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	m.mutations.WithLabelValues(string(entity), operation, result).Inc()
}

func (m *Metrics) observeMovement(movement *Movement) {
	if m == nil || movement == nil {
		return
	}
	m.movedQuantity.WithLabelValues(string(movement.Kind())).Add(float64(movement.Quantity))
}

func (m *Metrics) observeQuery(query string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// resultLabel maps an error to a bounded label value.
func resultLabel(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrReferenced):
		return "referenced"
	default:
		return "error"
	}
}
