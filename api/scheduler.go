/*
scheduler.go - Periodic tank reconciliation

PURPOSE:
  Periodically recomputes the tank level from its movement history and
  compares it with the materialized level, and counts cylinders whose
  hydrostatic test is due. Drift is logged; it is never corrected
  automatically.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on start
  - Keeps the most recent runs in memory for GET /api/reconciliation/runs

USAGE:
  scheduler := NewReconciliationScheduler(handler, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// keptRuns bounds the in-memory run history.
const keptRuns = 50

// testDueWindow is how far ahead the scheduler looks for hydrostatic tests.
const testDueWindow = 30 * 24 * time.Hour

// ReconciliationRun is the outcome of one scheduler pass.
type ReconciliationRun struct {
	StartedAt    time.Time       `json:"started_at"`
	Duration     string          `json:"duration"`
	Materialized decimal.Decimal `json:"materialized"`
	Computed     decimal.Decimal `json:"computed"`
	Drift        decimal.Decimal `json:"drift"`
	TestsDue     int             `json:"tests_due"`
	Error        string          `json:"error,omitempty"`
}

// ReconciliationScheduler runs tank reconciliation on a ticker.
type ReconciliationScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler. A non-positive
// interval disables it.
func NewReconciliationScheduler(h *Handler, interval time.Duration) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Handler:       h,
		CheckInterval: interval,
		Enabled:       interval > 0,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.ticker != nil {
		rs.Handler.Log.WithField("module", "scheduler").Info("reconciliation scheduler disabled")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)
	go rs.run()

	rs.Handler.Log.WithFields(logrus.Fields{
		"module":   "scheduler",
		"interval": rs.CheckInterval.String(),
	}).Info("reconciliation scheduler started")
}

// Stop stops the scheduler and waits for a pass in progress.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Handler.Log.WithField("module", "scheduler").Info("reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	rs.checkAndRecord(context.Background())
	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndRecord(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// checkAndRecord runs one pass and stores its outcome.
func (rs *ReconciliationScheduler) checkAndRecord(ctx context.Context) ReconciliationRun {
	h := rs.Handler
	start := time.Now()
	run := ReconciliationRun{StartedAt: start.UTC()}
	log := h.Log.WithFields(logrus.Fields{"module": "scheduler", "funcName": "checkAndRecord"})

	rec, err := h.Ledger.Tank.Recompute(ctx)
	if err != nil {
		run.Error = err.Error()
		log.Error("recompute tank level: " + err.Error())
	} else {
		run.Materialized = rec.Materialized
		run.Computed = rec.Computed
		run.Drift = rec.Drift
		if !rec.Drift.IsZero() {
			log.WithFields(logrus.Fields{
				"materialized": rec.Materialized.String(),
				"computed":     rec.Computed.String(),
				"drift":        rec.Drift.String(),
			}).Warn("tank level drifted from movement history")
		}
	}

	due, err := h.Ledger.Registry.DueForTest(ctx, h.now(), testDueWindow)
	if err != nil {
		if run.Error == "" {
			run.Error = err.Error()
		}
		log.Error("list cylinders due for test: " + err.Error())
	}
	run.TestsDue = len(due)
	run.Duration = time.Since(start).String()

	rs.runsMu.Lock()
	rs.runs = append(rs.runs, run)
	if len(rs.runs) > keptRuns {
		rs.runs = rs.runs[len(rs.runs)-keptRuns:]
	}
	rs.runsMu.Unlock()
	return run
}

// Runs returns recorded runs, newest first.
func (rs *ReconciliationScheduler) Runs() []ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	out := make([]ReconciliationRun, len(rs.runs))
	for i, r := range rs.runs {
		out[len(rs.runs)-1-i] = r
	}
	return out
}

// ListRuns serves the recorded runs.
func (rs *ReconciliationScheduler) ListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rs.Runs())
}

// TriggerRun runs one pass now, outside the ticker.
func (rs *ReconciliationScheduler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rs.checkAndRecord(r.Context()))
}
