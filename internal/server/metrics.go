package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(running func() int) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	m := &metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vtserver_rpc_requests_total",
			Help: "Total number of RPC requests by operation and result",
		}, []string{"operation", "success"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtserver_rpc_request_duration_seconds",
			Help:    "Time spent serving an RPC request",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vtserver_running_processes",
		Help: "Number of processes currently running",
	}, func() float64 {
		return float64(running())
	})
	return m
}

func (m *metrics) observe(operation string, success bool, d time.Duration) {
	m.requests.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}
