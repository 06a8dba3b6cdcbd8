package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (a *testAPI) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (a *testAPI) tankLevel(t *testing.T) TankLevelDTO {
	t.Helper()
	rec := a.do(t, http.MethodGet, "/api/tank", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[TankLevelDTO](t, rec)
}

func TestListScenarios(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)
	assert.Len(t, list, len(scenarioLoaders))
	for _, s := range list {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}

func TestLoadScenario_EveryScenarioLoads(t *testing.T) {
	for id := range scenarioLoaders {
		t.Run(id, func(t *testing.T) {
			a := setupTestAPI(t)

			a.loadScenario(t, id)

			rec := a.do(t, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, id, decodeBody[ScenarioDTO](t, rec).ID)

			rec = a.do(t, http.MethodGet, "/api/tank/recompute", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeBody[ReconciliationDTO](t, rec).Drift.IsZero())
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scenario_id", decodeBody[ErrorResponse](t, rec).Field)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	a := setupTestAPI(t)
	a.registerEmpty(t, 3, "dispatch")

	a.loadScenario(t, "empty-yard")

	rec := a.do(t, http.MethodGet, "/api/cylinders", nil)
	assert.Len(t, decodeBody[[]CylinderDTO](t, rec), 8)
	assert.True(t, decodeBody[TankLevelDTO](t, a.do(t, http.MethodGet, "/api/tank", nil)).Level.Equal(decimal.NewFromInt(500)))
}

func TestFillingDayScenario(t *testing.T) {
	a := setupTestAPI(t)

	a.loadScenario(t, "filling-day")

	rec := a.do(t, http.MethodGet, "/api/fillings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]FillingDTO](t, rec), 4)

	// 600 - 87.4 * 1.01 + 100 * 1.03
	assert.True(t, decimal.RequireFromString("614.726").Equal(a.tankLevel(t).Level), a.tankLevel(t).Level.String())
}

func TestRouteCycleScenario_TripClosed(t *testing.T) {
	a := setupTestAPI(t)

	a.loadScenario(t, "route-cycle")

	for _, loc := range []string{"routes", "customers"} {
		rec := a.do(t, http.MethodGet, "/api/transfers/open?location="+loc, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, decodeBody[[]OpenBatchDTO](t, rec), loc)
	}

	rec := a.do(t, http.MethodGet, "/api/cylinders/summary", nil)
	s := decodeBody[SummaryDTO](t, rec)
	assert.Equal(t, 4, s.ByLocation["customers"])
	assert.Equal(t, 2, s.ByLocation["route_closure"])
}

func TestLowTankScenario(t *testing.T) {
	a := setupTestAPI(t)

	a.loadScenario(t, "low-tank")

	level := a.tankLevel(t)
	assert.Equal(t, "low", level.Tier)
	assert.True(t, decimal.RequireFromString("124.75").Equal(level.Level), level.Level.String())

	rec := a.do(t, http.MethodGet, "/api/fillings?include_reversed=true", nil)
	fillings := decodeBody[[]FillingDTO](t, rec)
	require.Len(t, fillings, 2)
	reversed := 0
	for _, f := range fillings {
		if f.IsReversed {
			reversed++
		}
	}
	assert.Equal(t, 1, reversed)
}

func TestTestsDueScenario(t *testing.T) {
	a := setupTestAPI(t)

	a.loadScenario(t, "tests-due")

	rec := a.do(t, http.MethodGet, "/api/cylinders/due-tests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]CylinderDTO](t, rec), 4)
}

func TestResetDatabase(t *testing.T) {
	a := setupTestAPI(t)
	a.loadScenario(t, "filling-day")

	rec := a.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/cylinders", nil)
	assert.Empty(t, decodeBody[[]CylinderDTO](t, rec))
	assert.True(t, a.tankLevel(t).Level.Equal(decimal.NewFromInt(500)))

	rec = a.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", rec.Body.String()[:4])
}

func TestScenarioRoutes_DisabledByDefault(t *testing.T) {
	a := setupTestAPI(t, func(o *RouterOptions) { o.EnableScenarios = false })

	rec := a.do(t, http.MethodGet, "/api/scenarios", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
