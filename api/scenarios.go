/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos of the dashboard. Every scenario goes through the ledger
	API, so the data obeys the same rules as operator input.

AVAILABLE SCENARIOS:

	empty-yard:     Fresh fleet of empty cylinders at dispatch
	filling-day:    Approved filling batch and a tank delivery
	route-cycle:    Dispatch -> routes -> customers with a trip closure
	low-tank:       Tank below its threshold, one reversed filling
	tests-due:      Cylinders with overdue and upcoming hydrostatic tests

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Re-seed the tank with the scenario's opening level
 3. Register cylinders
 4. Run batches through the ledger

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "filling-day"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/co2-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-yard",
		Name:        "Empty Yard",
		Description: "Eight empty cylinders at dispatch, tank at half capacity",
		Category:    "registry",
	},
	{
		ID:          "filling-day",
		Name:        "Filling Day",
		Description: "Approved filling batch debiting the tank, plus a supplier delivery",
		Category:    "fillings",
	},
	{
		ID:          "route-cycle",
		Name:        "Route Cycle",
		Description: "Full cylinders dispatched on a trip, delivered, and the trip closed",
		Category:    "transfers",
	},
	{
		ID:          "low-tank",
		Name:        "Low Tank",
		Description: "Tank below its minimum threshold with one reversed filling",
		Category:    "tank",
	},
	{
		ID:          "tests-due",
		Name:        "Hydrostatic Tests Due",
		Description: "Cylinders with overdue and upcoming hydrostatic tests",
		Category:    "registry",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) error

var scenarioLoaders = map[string]scenarioLoader{
	"empty-yard":  (*Handler).loadEmptyYardScenario,
	"filling-day": (*Handler).loadFillingDayScenario,
	"route-cycle": (*Handler).loadRouteCycleScenario,
	"low-tank":    (*Handler).loadLowTankScenario,
	"tests-due":   (*Handler).loadTestsDueScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, "LoadScenario", &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeLedgerError(w, r, "LoadScenario", &ledger.ValidationError{Field: "scenario_id", Message: "unknown scenario"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeLedgerError(w, r, "LoadScenario", err)
		return
	}
	if err := load(h, ctx); err != nil {
		h.writeLedgerError(w, r, "LoadScenario", fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase wipes all data and re-seeds the configured tank.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		h.writeLedgerError(w, r, "ResetDatabase", err)
		return
	}
	if _, err := h.Ledger.Tank.EnsureTank(r.Context(), h.Tank); err != nil {
		h.writeLedgerError(w, r, "ResetDatabase", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errNoResetter = errors.New("scenarios need a resettable store")

func (h *Handler) reset(ctx context.Context) error {
	if h.Store == nil {
		return errNoResetter
	}
	h.currentScenario = ""
	return h.Store.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedTank creates the tank at percent of its configured capacity.
func (h *Handler) seedTank(ctx context.Context, percent int64) error {
	cfg := h.Tank
	cfg.InitialLevel = cfg.Capacity.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100))
	_, err := h.Ledger.Tank.EnsureTank(ctx, cfg)
	return err
}

// register adds n cylinders of capacity at location with status. The last
// hydrostatic test is lastTestYears before now.
func (h *Handler) register(ctx context.Context, prefix string, n int, capacity ledger.Capacity, status ledger.Status, location ledger.Location, lastTestYears int) ([]ledger.CylinderID, error) {
	now := h.now()
	ids := make([]ledger.CylinderID, 0, n)
	for i := 1; i <= n; i++ {
		c, err := h.Ledger.Registry.Register(ctx, ledger.RegisterInput{
			SerialNumber:        fmt.Sprintf("%s-%03d", prefix, i),
			Capacity:            capacity,
			ValveType:           "CGA-320",
			ManufacturingDate:   now.AddDate(-lastTestYears-2, 0, 0),
			LastHydrostaticTest: now.AddDate(-lastTestYears, 0, 0),
			Status:              status,
			Location:            location,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (h *Handler) loadEmptyYardScenario(ctx context.Context) error {
	if err := h.seedTank(ctx, 50); err != nil {
		return err
	}
	if _, err := h.register(ctx, "CO2-09", 4, ledger.Capacity9kg, ledger.StatusEmpty, ledger.LocationDispatch, 1); err != nil {
		return err
	}
	_, err := h.register(ctx, "CO2-25", 4, ledger.Capacity25kg, ledger.StatusEmpty, ledger.LocationDispatch, 1)
	return err
}

func (h *Handler) loadFillingDayScenario(ctx context.Context) error {
	if err := h.seedTank(ctx, 60); err != nil {
		return err
	}
	ids, err := h.register(ctx, "CO2-22", 6, ledger.Capacity22kg, ledger.StatusEmpty, ledger.LocationFillingStation, 2)
	if err != nil {
		return err
	}

	batch := "FILL-" + h.now().Format("20060102") + "-01"
	items := make([]ledger.FillItem, 0, 4)
	for i, kg := range []string{"21.5", "22", "21.8", "22.1"} {
		items = append(items, ledger.FillItem{CylinderID: ids[i], WeightFilled: decimal.RequireFromString(kg)})
	}
	if _, err := h.Ledger.Movements.FillBatch(ctx, ledger.FillBatchInput{
		Items:        items,
		OperatorName: "Luis Herrera",
		BatchNumber:  batch,
		IsApproved:   true,
		ApprovedBy:   "Shift supervisor",
	}); err != nil {
		return err
	}

	_, err = h.Ledger.Tank.RecordEntrance(ctx, ledger.EntranceInput{
		Quantity:     decimal.NewFromInt(100),
		OperatorName: "Luis Herrera",
		Supplier:     "Linde",
		Observations: "Weekly delivery",
	})
	return err
}

func (h *Handler) loadRouteCycleScenario(ctx context.Context) error {
	if err := h.seedTank(ctx, 50); err != nil {
		return err
	}
	ids, err := h.register(ctx, "CO2-09", 6, ledger.Capacity9kg, ledger.StatusFull, ledger.LocationDispatch, 1)
	if err != nil {
		return err
	}

	const trip = "NE-1001"
	if _, err := h.Ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:     ids,
		From:            ledger.LocationDispatch,
		To:              ledger.LocationRoutes,
		OperatorName:    "Driver 1",
		NotaEnvioNumber: trip,
	}); err != nil {
		return err
	}
	if _, err := h.Ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:     ids[:4],
		From:            ledger.LocationRoutes,
		To:              ledger.LocationCustomers,
		OperatorName:    "Driver 1",
		NotaEnvioNumber: trip,
	}); err != nil {
		return err
	}
	_, err = h.Ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:     ids[4:],
		From:            ledger.LocationRoutes,
		To:              ledger.LocationRouteClosure,
		OperatorName:    "Driver 1",
		NotaEnvioNumber: trip,
		TripClosure:     true,
		Observations:    "Returned unsold",
	})
	return err
}

func (h *Handler) loadLowTankScenario(ctx context.Context) error {
	if err := h.seedTank(ctx, 15); err != nil {
		return err
	}
	ids, err := h.register(ctx, "CO2-25", 3, ledger.Capacity25kg, ledger.StatusEmpty, ledger.LocationFillingStation, 1)
	if err != nil {
		return err
	}
	res, err := h.Ledger.Movements.FillBatch(ctx, ledger.FillBatchInput{
		Items: []ledger.FillItem{
			{CylinderID: ids[0], WeightFilled: decimal.NewFromInt(25)},
			{CylinderID: ids[1], WeightFilled: decimal.NewFromInt(24)},
		},
		OperatorName: "Ana Ruiz",
		BatchNumber:  "FILL-LOW-01",
		IsApproved:   true,
		ApprovedBy:   "Shift supervisor",
	})
	if err != nil {
		return err
	}
	return h.Ledger.Reversals.Reverse(ctx, ledger.RecordRef{Kind: ledger.KindFilling, ID: string(res.Fillings[1].ID)},
		"Shift supervisor", "Valve leak found after filling")
}

func (h *Handler) loadTestsDueScenario(ctx context.Context) error {
	if err := h.seedTank(ctx, 50); err != nil {
		return err
	}
	if _, err := h.register(ctx, "CO2-OVERDUE", 2, ledger.Capacity22kg, ledger.StatusEmpty, ledger.LocationDispatch, 6); err != nil {
		return err
	}
	if _, err := h.register(ctx, "CO2-DUE", 2, ledger.Capacity22kg, ledger.StatusFull, ledger.LocationCustomers, 5); err != nil {
		return err
	}
	_, err := h.register(ctx, "CO2-OK", 3, ledger.Capacity9kg, ledger.StatusFull, ledger.LocationDispatch, 1)
	return err
}
