package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

var now = time.Date(2025, time.March, 10, 9, 0, 0, 123456789, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestLedger(t *testing.T, store *Store) *ledger.Ledger {
	seq := 0
	return ledger.New(store,
		ledger.WithClock(func() time.Time { return now }),
		ledger.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		}),
	)
}

func register(t *testing.T, l *ledger.Ledger, serial string, status ledger.Status, location ledger.Location) ledger.Cylinder {
	t.Helper()
	c, err := l.Registry.Register(context.Background(), ledger.RegisterInput{
		SerialNumber:        serial,
		Capacity:            ledger.Capacity22kg,
		ValveType:           "CGA-320",
		ManufacturingDate:   now.AddDate(-4, 0, 0),
		LastHydrostaticTest: now.AddDate(-1, 0, 0),
		Status:              status,
		Location:            location,
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestCylinder_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLedger(t, store)

	c := register(t, l, "CO2-22-001", ledger.StatusFull, ledger.LocationDispatch)

	got, err := store.GetCylinder(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.SerialNumber, got.SerialNumber)
	assert.Equal(t, ledger.Capacity22kg, got.Capacity)
	assert.Equal(t, "CGA-320", got.ValveType)
	assert.True(t, c.NextTestDue.Equal(got.NextTestDue))
	assert.True(t, now.Equal(got.CreatedAt), "nanoseconds survive")
	assert.True(t, got.IsActive)

	bySerial, err := store.GetCylinderBySerial(ctx, "CO2-22-001")
	require.NoError(t, err)
	assert.Equal(t, c.ID, bySerial.ID)

	missing, err := store.GetCylinder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListCylinders_Filters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLedger(t, store)
	a := register(t, l, "A", ledger.StatusFull, ledger.LocationDispatch)
	register(t, l, "B", ledger.StatusEmpty, ledger.LocationDispatch)
	c := register(t, l, "C", ledger.StatusFull, ledger.LocationRoutes)

	full := ledger.StatusFull
	got, err := store.ListCylinders(ctx, ledger.CylinderFilter{Status: &full, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ID, got[0].ID, "newest first")

	got, err = store.ListCylinders(ctx, ledger.CylinderFilter{IDs: []ledger.CylinderID{a.ID, c.ID}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSwapTankLevel_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveTank(ctx, ledger.Tank{
		ID: "main", Name: "Main", CurrentLevel: decimal.RequireFromString("500"),
		Capacity: decimal.RequireFromString("1000"), MinimumThreshold: decimal.RequireFromString("20"), UpdatedAt: now,
	}))

	err := store.SwapTankLevel(ctx, "main", decimal.RequireFromString("499"), decimal.RequireFromString("10"), now)
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)

	require.NoError(t, store.SwapTankLevel(ctx, "main", decimal.RequireFromString("500"), decimal.RequireFromString("603.5"), now))
	tank, err := store.GetTank(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "603.5", tank.CurrentLevel.String())
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLedger(t, store)
	c := register(t, l, "A", ledger.StatusEmpty, ledger.LocationDispatch)

	err := store.WithTx(ctx, func(tx ledger.Store) error {
		c.Status = ledger.StatusFull
		require.NoError(t, tx.UpdateCylinder(ctx, c))
		return fmt.Errorf("abort")
	})

	require.Error(t, err)
	got, err := store.GetCylinder(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusEmpty, got.Status)
}

// =============================================================================
// LEDGER ON SQLITE
// =============================================================================

func TestLedger_FillTransferReverse(t *testing.T) {
	// GIVEN: A tank at 500 kg and three empty cylinders
	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLedger(t, store)
	_, err := l.Tank.EnsureTank(ctx, ledger.TankConfig{
		Name: "Main", Capacity: decimal.NewFromInt(1000), MinimumThreshold: decimal.NewFromInt(20), InitialLevel: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	var ids []ledger.CylinderID
	items := []ledger.FillItem{}
	for i, w := range []string{"10", "12", "8"} {
		c := register(t, l, fmt.Sprintf("S-%d", i), ledger.StatusEmpty, ledger.LocationDispatch)
		ids = append(ids, c.ID)
		items = append(items, ledger.FillItem{CylinderID: c.ID, WeightFilled: decimal.RequireFromString(w)})
	}

	// WHEN: The batch is filled
	res, err := l.Movements.FillBatch(ctx, ledger.FillBatchInput{
		Items: items, OperatorName: "luis", BatchNumber: "B-9", IsApproved: true, ApprovedBy: "sup",
	})
	require.NoError(t, err)

	// THEN: Rows persisted with shrinkage, tank debited
	stored, err := l.Movements.BatchFillings(ctx, "B-9")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	level, err := l.Tank.CurrentLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "469.7", level.Level.String())

	// WHEN: A filled cylinder goes dispatch -> filling station, then back
	tr, err := l.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs: ids[:1], From: ledger.LocationDispatch, To: ledger.LocationFillingStation, OperatorName: "luis",
	})
	require.NoError(t, err)
	c, err := l.Registry.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusEmpty, c.Status)

	err = l.Reversals.Reverse(ctx, ledger.RecordRef{Kind: ledger.KindTransfer, ID: string(tr.Transfers[0].ID)}, "sup", "wrong route")
	require.NoError(t, err)

	// THEN: Location and status are restored
	c, err = l.Registry.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.LocationDispatch, c.Location)
	assert.Equal(t, ledger.StatusFull, c.Status)

	// AND: Reversing a filling gives its consumption back to the tank
	err = l.Reversals.Reverse(ctx, ledger.RecordRef{Kind: ledger.KindFilling, ID: string(res.Fillings[1].ID)}, "sup", "leak")
	require.NoError(t, err)
	level, err = l.Tank.CurrentLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "481.82", level.Level.String())

	rec, err := l.Tank.Recompute(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Drift.IsZero())

	logs, err := l.ApprovalLogs(ctx, ledger.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.AuditReverse, logs[0].Action)
	assert.NotEmpty(t, logs[0].NewData)
}

func TestReset_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLedger(t, store)
	register(t, l, "A", ledger.StatusEmpty, ledger.LocationDispatch)

	require.NoError(t, store.Reset(ctx))

	list, err := store.ListCylinders(ctx, ledger.CylinderFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
