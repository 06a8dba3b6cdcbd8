package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

func fillInput(ids []ledger.CylinderID, weights ...string) ledger.FillBatchInput {
	in := ledger.FillBatchInput{
		OperatorName: "luis",
		BatchNumber:  "B-001",
		IsApproved:   true,
		ApprovedBy:   "supervisor",
	}
	for i, id := range ids {
		in.Items = append(in.Items, ledger.FillItem{CylinderID: id, WeightFilled: kg(weights[i])})
	}
	return in
}

// =============================================================================
// FILLING BATCH TESTS
// =============================================================================

func TestFillBatch_ApprovedBatch_FillsEveryCylinder(t *testing.T) {
	// GIVEN: Three empty cylinders and a tank at 500 kg
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 3, ledger.StatusEmpty, ledger.LocationFillingStation)

	// WHEN: An approved batch fills them with 10, 12 and 8 kg
	res, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "10", "12", "8"))

	// THEN: One row per cylinder with 1% shrinkage, every cylinder full
	require.NoError(t, err)
	require.Len(t, res.Fillings, 3)
	assert.Equal(t, 3, res.Count)
	for i, want := range []string{"0.1", "0.12", "0.08"} {
		requireKg(t, want, res.Fillings[i].ShrinkageAmount)
		assert.Equal(t, ledger.StatusEmpty, res.Fillings[i].PreviousStatus)
	}
	requireKg(t, "30", res.TotalWeight)
	requireKg(t, "0.3", res.TotalShrinkage)
	for _, id := range ids {
		assert.Equal(t, ledger.StatusFull, f.cylinder(t, id).Status)
	}

	// AND: The tank is debited weight + shrinkage per filling
	require.Len(t, res.TankMovements, 3)
	assert.Equal(t, res.Fillings[0].ID, res.TankMovements[0].ReferenceFillingID)
	requireKg(t, "469.7", f.level(t))

	stored, err := f.ledger.Movements.BatchFillings(ctx, "B-001")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, 3, f.events.count(ledger.EventFillingCreated))
}

func TestFillBatch_NotApproved_NothingWritten(t *testing.T) {
	// GIVEN: Three empty cylinders
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 3, ledger.StatusEmpty, ledger.LocationFillingStation)

	// WHEN: The batch is not approved
	in := fillInput(ids, "10", "12", "8")
	in.IsApproved = false
	_, err := f.ledger.Movements.FillBatch(ctx, in)

	// THEN: Rejected before any write
	require.ErrorIs(t, err, ledger.ErrApprovalRequired)
	var approval *ledger.ApprovalRequiredError
	require.True(t, errors.As(err, &approval))
	assert.Equal(t, "B-001", approval.BatchNumber)

	stored, err := f.ledger.Movements.BatchFillings(ctx, "B-001")
	require.NoError(t, err)
	assert.Empty(t, stored)
	for _, id := range ids {
		assert.Equal(t, ledger.StatusEmpty, f.cylinder(t, id).Status)
	}
	requireKg(t, "500", f.level(t))
}

func TestFillBatch_InvalidWeightCheckedBeforeApproval(t *testing.T) {
	f := newFixture(t)
	ids := f.cylinders(t, 2, ledger.StatusEmpty, ledger.LocationFillingStation)

	in := fillInput(ids, "10", "0")
	in.IsApproved = false
	_, err := f.ledger.Movements.FillBatch(context.Background(), in)

	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.Equal(t, "invalid weight", err.Error())
}

func TestFillBatch_EmptyBatchRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Movements.FillBatch(context.Background(), ledger.FillBatchInput{
		OperatorName: "luis",
		IsApproved:   true,
		ApprovedBy:   "supervisor",
	})

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestFillBatch_StaleCylinder_WholeBatchRolledBack(t *testing.T) {
	// GIVEN: Two empty cylinders and one already full
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	empty := f.cylinders(t, 2, ledger.StatusEmpty, ledger.LocationFillingStation)
	full := f.cylinders(t, 1, ledger.StatusFull, ledger.LocationFillingStation)
	ids := append(empty, full...)

	// WHEN: All three are submitted in one batch
	_, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "10", "10", "10"))

	// THEN: Stale selection, and the first two were not filled
	require.ErrorIs(t, err, ledger.ErrStaleSelection)
	var stale *ledger.StaleSelectionError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, full[0], stale.CylinderID)
	for _, id := range empty {
		assert.Equal(t, ledger.StatusEmpty, f.cylinder(t, id).Status)
	}
	requireKg(t, "500", f.level(t))
	assert.Zero(t, f.events.count(ledger.EventFillingCreated))
}

func TestFillBatch_TankTooLow_WholeBatchRolledBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "15", "1000")
	ids := f.cylinders(t, 2, ledger.StatusEmpty, ledger.LocationFillingStation)

	_, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "10", "10"))

	require.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	stored, err := f.ledger.Movements.BatchFillings(ctx, "B-001")
	require.NoError(t, err)
	assert.Empty(t, stored)
	for _, id := range ids {
		assert.Equal(t, ledger.StatusEmpty, f.cylinder(t, id).Status)
	}
}

func TestFillBatch_WithoutTankDebit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ledger.WithFillingTankDebit(false))
	ids := f.cylinders(t, 1, ledger.StatusEmpty, ledger.LocationFillingStation)

	res, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "9"))

	require.NoError(t, err)
	assert.Empty(t, res.TankMovements)
	assert.Equal(t, ledger.StatusFull, f.cylinder(t, ids[0]).Status)
}

func TestFillBatch_DuplicateCylinderRejected(t *testing.T) {
	f := newFixture(t)
	ids := f.cylinders(t, 1, ledger.StatusEmpty, ledger.LocationFillingStation)

	_, err := f.ledger.Movements.FillBatch(context.Background(), fillInput([]ledger.CylinderID{ids[0], ids[0]}, "9", "9"))

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestFillBatch_InactiveCylinderNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 1, ledger.StatusEmpty, ledger.LocationFillingStation)
	require.NoError(t, f.ledger.Registry.SoftDelete(ctx, ids[0], "admin", "scrapped"))

	_, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "9"))

	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestFillBatch_PinToFillingStation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 1, ledger.StatusEmpty, ledger.LocationDispatch)

	in := fillInput(ids, "9")
	in.PinToFillingStation = true
	_, err := f.ledger.Movements.FillBatch(ctx, in)

	require.NoError(t, err)
	assert.Equal(t, ledger.LocationFillingStation, f.cylinder(t, ids[0]).Location)
}

func TestEditBatchWeights_RecomputesShrinkageAndTank(t *testing.T) {
	// GIVEN: A filled batch of two cylinders, tank at 500 - 20.2
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 2, ledger.StatusEmpty, ledger.LocationFillingStation)
	_, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "10", "10"))
	require.NoError(t, err)
	requireKg(t, "479.8", f.level(t))

	// WHEN: The first weight is corrected to 20 kg
	edited, err := f.ledger.Movements.EditBatchWeights(ctx, "B-001",
		map[ledger.CylinderID]decimal.Decimal{ids[0]: kg("20")}, "supervisor", "scale misread")

	// THEN: Shrinkage and the linked tank exit follow
	require.NoError(t, err)
	require.Len(t, edited, 1)
	requireKg(t, "0.2", edited[0].ShrinkageAmount)
	requireKg(t, "469.7", f.level(t))

	logs, err := f.ledger.ApprovalLogs(ctx, ledger.AuditFilter{RecordID: string(edited[0].ID)})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, ledger.AuditEdit, logs[0].Action)
	assert.Contains(t, string(logs[0].PreviousData), `"10"`)
}

func TestEditBatchWeights_RequiresComment(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Movements.EditBatchWeights(context.Background(), "B-001",
		map[ledger.CylinderID]decimal.Decimal{"x": kg("1")}, "supervisor", " ")

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSetBatchApproval_FlipsEveryFilling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	ids := f.cylinders(t, 3, ledger.StatusEmpty, ledger.LocationFillingStation)
	_, err := f.ledger.Movements.FillBatch(ctx, fillInput(ids, "9", "9", "9"))
	require.NoError(t, err)

	n, err := f.ledger.Movements.SetBatchApproval(ctx, "B-001", false, "quality", "pressure check failed")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := f.ledger.Movements.BatchFillings(ctx, "B-001")
	require.NoError(t, err)
	for _, fl := range stored {
		assert.False(t, fl.IsApproved)
		assert.Empty(t, fl.ApprovedBy)
	}

	reject := ledger.AuditReject
	logs, err := f.ledger.ApprovalLogs(ctx, ledger.AuditFilter{Action: &reject})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	// Flipping to the same value again changes nothing
	n, err = f.ledger.Movements.SetBatchApproval(ctx, "B-001", false, "quality", "again")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetBatchApproval_UnknownBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Movements.SetBatchApproval(context.Background(), "nope", true, "quality", "")

	require.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// TRANSFER BATCH TESTS
// =============================================================================

func TestTransferBatch_DispatchToFillingStation_ForcesEmpty(t *testing.T) {
	// GIVEN: A full cylinder at dispatch
	ctx := context.Background()
	f := newFixture(t)
	ids := f.cylinders(t, 1, ledger.StatusFull, ledger.LocationDispatch)

	// WHEN: It is moved to the filling station
	res, err := f.ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:  ids,
		From:         ledger.LocationDispatch,
		To:           ledger.LocationFillingStation,
		OperatorName: "luis",
	})

	// THEN: Location changes and status is forced to empty
	require.NoError(t, err)
	require.Len(t, res.Transfers, 1)
	assert.True(t, res.Transfers[0].StatusForced)
	assert.Equal(t, ledger.StatusFull, res.Transfers[0].PreviousStatus)
	c := f.cylinder(t, ids[0])
	assert.Equal(t, ledger.LocationFillingStation, c.Location)
	assert.Equal(t, ledger.StatusEmpty, c.Status)
}

func TestTransferBatch_OtherRoutesKeepStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := f.cylinders(t, 2, ledger.StatusFull, ledger.LocationDispatch)

	res, err := f.ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:  ids,
		From:         ledger.LocationDispatch,
		To:           ledger.LocationRoutes,
		OperatorName: "luis",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	for _, id := range ids {
		c := f.cylinder(t, id)
		assert.Equal(t, ledger.LocationRoutes, c.Location)
		assert.Equal(t, ledger.StatusFull, c.Status)
	}
}

func TestTransferBatch_SameLocationRejected(t *testing.T) {
	f := newFixture(t)
	ids := f.cylinders(t, 1, ledger.StatusFull, ledger.LocationDispatch)

	_, err := f.ledger.Movements.TransferBatch(context.Background(), ledger.TransferBatchInput{
		CylinderIDs:  ids,
		From:         ledger.LocationDispatch,
		To:           ledger.LocationDispatch,
		OperatorName: "luis",
	})

	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestTransferBatch_CylinderMovedElsewhere_Stale(t *testing.T) {
	// GIVEN: Two cylinders, one already moved to routes by someone else
	ctx := context.Background()
	f := newFixture(t)
	ids := f.cylinders(t, 2, ledger.StatusFull, ledger.LocationDispatch)
	routes := ledger.LocationRoutes
	require.NoError(t, f.ledger.Registry.ApplyStatusAndLocation(ctx, ids[1:], ledger.StateChange{Location: &routes}))

	// WHEN: Both are moved from dispatch
	_, err := f.ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:  ids,
		From:         ledger.LocationDispatch,
		To:           ledger.LocationRoutes,
		OperatorName: "luis",
	})

	// THEN: Whole batch rejected
	require.ErrorIs(t, err, ledger.ErrStaleSelection)
	assert.Equal(t, ledger.LocationDispatch, f.cylinder(t, ids[0]).Location)
	transfers, err := f.ledger.Movements.Transfers(ctx, ledger.TransferFilter{})
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestTransferBatch_TripClosure_ClosesEarlierStages(t *testing.T) {
	// GIVEN: A batch shipped to customers under nota envio NE-7
	ctx := context.Background()
	f := newFixture(t)
	ids := f.cylinders(t, 3, ledger.StatusFull, ledger.LocationRoutes)
	_, err := f.ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:     ids,
		From:            ledger.LocationRoutes,
		To:              ledger.LocationCustomers,
		OperatorName:    "luis",
		NotaEnvioNumber: "NE-7",
	})
	require.NoError(t, err)

	open, err := f.ledger.Movements.OpenBatches(ctx, ledger.LocationCustomers)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "NE-7", open[0].Reference)
	assert.Len(t, open[0].CylinderIDs, 3)

	// WHEN: The returns close the trip
	res, err := f.ledger.Movements.TransferBatch(ctx, ledger.TransferBatchInput{
		CylinderIDs:     ids,
		From:            ledger.LocationCustomers,
		To:              ledger.LocationCustomerReturn,
		OperatorName:    "luis",
		NotaEnvioNumber: "NE-7",
		TripClosure:     true,
	})

	// THEN: Every transfer under NE-7 is closed and the batch leaves the pool
	require.NoError(t, err)
	assert.Equal(t, 6, res.ClosedTrips)
	open, err = f.ledger.Movements.OpenBatches(ctx, ledger.LocationCustomers)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCloseTrip_UnknownReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Movements.CloseTrip(context.Background(), "DO-404")

	require.ErrorIs(t, err, ledger.ErrNotFound)
}
