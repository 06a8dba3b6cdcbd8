package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

func TestCollector_CountsEventsAndTracksLevel(t *testing.T) {
	c := New(prometheus.NewRegistry())
	level := decimal.RequireFromString("469.7")

	c.Observe(ledger.Event{Type: ledger.EventFillingCreated})
	c.Observe(ledger.Event{Type: ledger.EventFillingCreated})
	c.Observe(ledger.Event{Type: ledger.EventTankLevelChanged, Level: &level})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("filling_created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("tank_level_changed")))
	assert.InDelta(t, 469.7, testutil.ToFloat64(c.tankLevel), 1e-9)
}

func TestCollector_LevelEventWithoutValueKeepsGauge(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.SetTankLevel(ledger.Level{Level: decimal.NewFromInt(500)})

	c.Observe(ledger.Event{Type: ledger.EventTankLevelChanged})

	assert.Equal(t, 500.0, testutil.ToFloat64(c.tankLevel))
}

func TestCollector_RequestHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveRequest("POST", "/api/fillings", 201, 15*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "co2_ledger_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP co2_ledger_tank_level_kg Current bulk tank level in kilograms.
# TYPE co2_ledger_tank_level_kg gauge
co2_ledger_tank_level_kg 0
`), "co2_ledger_tank_level_kg")
	require.NoError(t, err)
}
