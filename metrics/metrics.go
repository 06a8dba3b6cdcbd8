// Package metrics exposes ledger activity to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/co2-ledger/ledger"
)

const namespace = "co2_ledger"

// Collector is a ledger.Observer that turns committed change events into
// Prometheus series. It also carries the HTTP request histogram used by the
// api package.
type Collector struct {
	events    *prometheus.CounterVec
	tankLevel prometheus.Gauge
	requests  *prometheus.HistogramVec
}

// New registers the ledger series on reg. Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed ledger change events by type.",
		}, []string{"type"}),
		tankLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_level_kg",
			Help:      "Current bulk tank level in kilograms.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(c.events, c.tankLevel, c.requests)
	return c
}

func (c *Collector) Observe(e ledger.Event) {
	c.events.WithLabelValues(string(e.Type)).Inc()
	if e.Type == ledger.EventTankLevelChanged && e.Level != nil {
		c.tankLevel.Set(e.Level.InexactFloat64())
	}
}

// SetTankLevel seeds the gauge at startup, before any event arrives.
func (c *Collector) SetTankLevel(level ledger.Level) {
	c.tankLevel.Set(level.Level.InexactFloat64())
}

func (c *Collector) ObserveRequest(method, route string, code int, took time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(took.Seconds())
}

var _ ledger.Observer = (*Collector)(nil)
