/*
movement.go - Movement Engine (batch fillings and transfers)

PURPOSE:
  Validates and executes batch operations over a set of cylinders. Each
  batch is one store transaction: every per-cylinder row is inserted and
  every registry update applied, or none are.

FILLING BATCH:
  Preconditions, checked in this order:
    1. at least one cylinder, an operator
    2. every weight > 0                 -> ValidationError "invalid weight"
    3. IsApproved                       -> ApprovalRequiredError
    4. every cylinder active            -> NotFoundError
    5. every cylinder status == empty   -> StaleSelectionError
  Per cylinder: shrinkage = weight × 1%, insert Filling, status -> full.
  When tank debits are on, each filling also books a tank exit of
  weight + shrinkage linked through ReferenceFillingID.

TRANSFER BATCH:
  Preconditions: from != to, every cylinder active and currently at from.
  Per cylinder: insert Transfer, location -> to.
  dispatch -> filling_station also forces status -> empty; the previous
  status is kept on the row so a reversal can restore it.
  TripClosure with a reference number closes every transfer sharing it,
  taking that batch out of the open-batch pool of downstream stages.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Engine struct {
	core *core
	tank *TankLedger
}

// =============================================================================
// FILLINGS
// =============================================================================

type FillItem struct {
	CylinderID   CylinderID
	WeightFilled decimal.Decimal
}

type FillBatchInput struct {
	Items        []FillItem `validate:"min=1"`
	OperatorName string     `validate:"required"`
	BatchNumber  string
	FilledAt     time.Time // defaults to now
	IsApproved   bool
	ApprovedBy   string

	// PinToFillingStation moves the filled cylinders to the filling station.
	PinToFillingStation bool
	Observations        string
}

// FillBatchResult carries the persisted rows and the batch totals the
// caller displays. Totals are sums of the persisted rows.
type FillBatchResult struct {
	Fillings       []Filling
	TankMovements  []TankMovement
	Count          int
	TotalWeight    decimal.Decimal
	TotalShrinkage decimal.Decimal
}

// FillBatch fills every cylinder in the batch, or none.
func (e *Engine) FillBatch(ctx context.Context, in FillBatchInput) (FillBatchResult, error) {
	if err := e.core.check(in); err != nil {
		return FillBatchResult{}, err
	}
	for _, item := range in.Items {
		if !item.WeightFilled.IsPositive() {
			return FillBatchResult{}, invalid("", "invalid weight")
		}
	}
	if !in.IsApproved {
		return FillBatchResult{}, &ApprovalRequiredError{BatchNumber: in.BatchNumber}
	}
	if blank(in.ApprovedBy) {
		return FillBatchResult{}, invalid("approved_by", "is required")
	}
	ids := make([]CylinderID, len(in.Items))
	for i, item := range in.Items {
		ids[i] = item.CylinderID
	}
	if err := uniqueIDs(ids); err != nil {
		return FillBatchResult{}, err
	}
	if in.FilledAt.IsZero() {
		in.FilledAt = e.core.now()
	}

	var res FillBatchResult
	fill := func(tx Store, emit emitFunc) error {
		res = FillBatchResult{TotalWeight: decimal.Zero, TotalShrinkage: decimal.Zero}
		now := e.core.now()
		for _, item := range in.Items {
			c, err := activeCylinder(ctx, tx, item.CylinderID)
			if err != nil {
				return err
			}
			if c.Status != StatusEmpty {
				return &StaleSelectionError{
					CylinderID: c.ID, Field: "status",
					Expected: string(StatusEmpty), Actual: string(c.Status),
				}
			}
			f := Filling{
				ID:                  FillingID(e.core.newID()),
				CylinderID:          c.ID,
				TankID:              e.core.tankID,
				WeightFilled:        item.WeightFilled,
				OperatorName:        in.OperatorName,
				BatchNumber:         in.BatchNumber,
				FilledAt:            in.FilledAt,
				IsApproved:          true,
				ApprovedBy:          in.ApprovedBy,
				ShrinkagePercentage: e.core.rates.Filling,
				ShrinkageAmount:     Shrinkage(item.WeightFilled, e.core.rates.Filling),
				PreviousStatus:      c.Status,
				PreviousLocation:    c.Location,
				Observations:        in.Observations,
				CreatedAt:           now,
			}
			res.Fillings = append(res.Fillings, f)
			res.TotalWeight = res.TotalWeight.Add(f.WeightFilled)
			res.TotalShrinkage = res.TotalShrinkage.Add(f.ShrinkageAmount)

			c.Status = StatusFull
			if in.PinToFillingStation {
				c.Location = LocationFillingStation
			}
			c.UpdatedAt = now
			if err := tx.UpdateCylinder(ctx, c); err != nil {
				return err
			}
		}
		if err := tx.InsertFillings(ctx, res.Fillings); err != nil {
			return err
		}

		for _, f := range res.Fillings {
			ref := RecordRef{Kind: KindFilling, ID: string(f.ID)}
			if err := e.core.audit(ctx, tx, ref, AuditApprove, nil, f, in.ApprovedBy, "approved on creation"); err != nil {
				return err
			}
			emit(Event{Type: EventFillingCreated, Kind: KindFilling, RecordID: string(f.ID)})
			emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(f.CylinderID)})
		}

		if !e.core.debitTank {
			return nil
		}
		debit := decimal.Zero
		for _, f := range res.Fillings {
			m := consumptionFor(f, e.core.newID(), now)
			if err := tx.InsertTankMovement(ctx, m); err != nil {
				return err
			}
			res.TankMovements = append(res.TankMovements, m)
			debit = debit.Add(m.Delta())
		}
		_, err := e.tank.adjustLevel(ctx, tx, debit, emit)
		return err
	}

	var err error
	if e.core.debitTank {
		err = e.tank.locked(ctx, "fill batch", fill)
	} else {
		err = e.core.run(ctx, "fill batch", fill)
	}
	if err != nil {
		return FillBatchResult{}, err
	}
	res.Count = len(res.Fillings)
	return res, nil
}

// consumptionFor builds the tank exit that materializes a filling's draw
// on the tank: weight plus filling shrinkage.
func consumptionFor(f Filling, id string, at time.Time) TankMovement {
	return TankMovement{
		ID:                  TankMovementID(id),
		TankID:              f.TankID,
		Type:                MovementExit,
		Quantity:            f.WeightFilled,
		ShrinkagePercentage: f.ShrinkagePercentage,
		ShrinkageAmount:     f.ShrinkageAmount,
		OperatorName:        f.OperatorName,
		ReferenceFillingID:  f.ID,
		Observations:        "cylinder filling",
		CreatedAt:           at,
	}
}

// EditBatchWeights rewrites the weights of fillings in a batch. Every
// cylinder is edited independently; the whole edit commits atomically.
func (e *Engine) EditBatchWeights(ctx context.Context, batchNumber string, weights map[CylinderID]decimal.Decimal, actor, comment string) ([]Filling, error) {
	switch {
	case blank(batchNumber):
		return nil, invalid("batch_number", "is required")
	case len(weights) == 0:
		return nil, invalid("weights", "at least one weight is required")
	case blank(comment):
		return nil, invalid("comment", "an audit comment is required")
	}
	for _, w := range weights {
		if !w.IsPositive() {
			return nil, invalid("", "invalid weight")
		}
	}

	var edited []Filling
	edit := func(tx Store, emit emitFunc) error {
		edited = edited[:0]
		byCylinder, err := batchByCylinder(ctx, tx, batchNumber)
		if err != nil {
			return err
		}
		delta := decimal.Zero
		for _, cid := range sortedCylinderIDs(weights) {
			before, ok := byCylinder[cid]
			if !ok {
				return notFound(KindFilling, batchNumber+"/"+string(cid))
			}
			if before.IsReversed {
				return &AlreadyReversedError{
					Ref:        RecordRef{Kind: KindFilling, ID: string(before.ID)},
					ReversedAt: before.ReversedAt,
					ReversedBy: before.ReversedBy,
				}
			}
			after := before
			after.WeightFilled = weights[cid]
			after.ShrinkageAmount = Shrinkage(after.WeightFilled, after.ShrinkagePercentage)
			if err := tx.UpdateFilling(ctx, after); err != nil {
				return err
			}
			ref := RecordRef{Kind: KindFilling, ID: string(after.ID)}
			if err := e.core.audit(ctx, tx, ref, AuditEdit, before, after, actor, comment); err != nil {
				return err
			}
			edited = append(edited, after)
			emit(Event{Type: EventFillingUpdated, Kind: KindFilling, RecordID: string(after.ID)})

			d, err := e.resizeConsumption(ctx, tx, after)
			if err != nil {
				return err
			}
			delta = delta.Add(d)
		}
		if delta.IsZero() {
			return nil
		}
		_, err = e.tank.adjustLevel(ctx, tx, delta, emit)
		return err
	}

	var err error
	if e.core.debitTank {
		err = e.tank.locked(ctx, "edit batch weights", edit)
	} else {
		err = e.core.run(ctx, "edit batch weights", edit)
	}
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// resizeConsumption rewrites the tank exit linked to f and returns the
// change to apply to the tank level.
func (e *Engine) resizeConsumption(ctx context.Context, tx Store, f Filling) (decimal.Decimal, error) {
	linked, err := tx.ListTankMovements(ctx, TankMovementFilter{ReferenceFillingID: f.ID})
	if err != nil {
		return decimal.Zero, err
	}
	delta := decimal.Zero
	for _, m := range linked {
		old := m.Delta()
		m.Quantity = f.WeightFilled
		m.ShrinkageAmount = f.ShrinkageAmount
		if err := tx.UpdateTankMovement(ctx, m); err != nil {
			return decimal.Zero, err
		}
		delta = delta.Add(m.Delta().Sub(old))
	}
	return delta, nil
}

// SetBatchApproval flips approval identically on every filling in the batch.
// Returns the number of fillings changed.
func (e *Engine) SetBatchApproval(ctx context.Context, batchNumber string, approved bool, actor, comment string) (int, error) {
	if blank(batchNumber) {
		return 0, invalid("batch_number", "is required")
	}
	if blank(actor) {
		return 0, invalid("performed_by", "is required")
	}
	action := AuditApprove
	if !approved {
		action = AuditReject
	}

	changed := 0
	err := e.core.run(ctx, "set batch approval", func(tx Store, emit emitFunc) error {
		changed = 0
		byCylinder, err := batchByCylinder(ctx, tx, batchNumber)
		if err != nil {
			return err
		}
		for _, cid := range sortedKeys(byCylinder) {
			before := byCylinder[cid]
			if before.IsReversed || before.IsApproved == approved {
				continue
			}
			after := before
			after.IsApproved = approved
			after.ApprovedBy = ""
			if approved {
				after.ApprovedBy = actor
			}
			if err := tx.UpdateFilling(ctx, after); err != nil {
				return err
			}
			ref := RecordRef{Kind: KindFilling, ID: string(after.ID)}
			if err := e.core.audit(ctx, tx, ref, action, before, after, actor, comment); err != nil {
				return err
			}
			changed++
			emit(Event{Type: EventFillingUpdated, Kind: KindFilling, RecordID: string(after.ID)})
		}
		return nil
	})
	return changed, err
}

// BatchFillings returns every filling of a batch, reversed ones included.
func (e *Engine) BatchFillings(ctx context.Context, batchNumber string) ([]Filling, error) {
	return e.Fillings(ctx, FillingFilter{BatchNumber: batchNumber, IncludeReversed: true})
}

func (e *Engine) Fillings(ctx context.Context, filter FillingFilter) ([]Filling, error) {
	return readRetry(ctx, "list fillings", func(ctx context.Context) ([]Filling, error) {
		return e.core.store.ListFillings(ctx, filter)
	})
}

// batchByCylinder loads the fillings of a batch keyed by cylinder. A
// cylinder filled twice in the same batch keeps its newest active row.
func batchByCylinder(ctx context.Context, tx Store, batchNumber string) (map[CylinderID]Filling, error) {
	fillings, err := tx.ListFillings(ctx, FillingFilter{BatchNumber: batchNumber, IncludeReversed: true})
	if err != nil {
		return nil, err
	}
	if len(fillings) == 0 {
		return nil, notFound(KindFilling, "batch "+batchNumber)
	}
	out := make(map[CylinderID]Filling, len(fillings))
	for _, f := range fillings {
		if prev, ok := out[f.CylinderID]; ok && !prev.IsReversed {
			continue
		}
		out[f.CylinderID] = f
	}
	return out, nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferBatchInput struct {
	CylinderIDs         []CylinderID `validate:"min=1"`
	From                Location     `validate:"required"`
	To                  Location     `validate:"required"`
	OperatorName        string       `validate:"required"`
	TransferNumber      string
	NotaEnvioNumber     string
	DeliveryOrderNumber string
	TripClosure         bool
	Observations        string
}

func (in TransferBatchInput) reference() string {
	return Transfer{
		TransferNumber:      in.TransferNumber,
		NotaEnvioNumber:     in.NotaEnvioNumber,
		DeliveryOrderNumber: in.DeliveryOrderNumber,
	}.Reference()
}

type TransferBatchResult struct {
	Transfers   []Transfer
	Count       int
	ClosedTrips int // rows marked trip_closure, including earlier stages
}

// forcesEmpty reports whether a move empties the cylinder as a side effect.
// Cylinders reaching the filling station from dispatch are emptied for refill.
func forcesEmpty(from, to Location) bool {
	return from == LocationDispatch && to == LocationFillingStation
}

// TransferBatch moves every cylinder from in.From to in.To, or none.
func (e *Engine) TransferBatch(ctx context.Context, in TransferBatchInput) (TransferBatchResult, error) {
	if err := e.core.check(in); err != nil {
		return TransferBatchResult{}, err
	}
	switch {
	case !in.From.Valid():
		return TransferBatchResult{}, invalid("from_location", "unknown location")
	case !in.To.Valid():
		return TransferBatchResult{}, invalid("to_location", "unknown location")
	case in.From == in.To:
		return TransferBatchResult{}, invalid("to_location", "must differ from the origin location")
	}
	if err := uniqueIDs(in.CylinderIDs); err != nil {
		return TransferBatchResult{}, err
	}

	var res TransferBatchResult
	err := e.core.run(ctx, "transfer batch", func(tx Store, emit emitFunc) error {
		res = TransferBatchResult{}
		now := e.core.now()
		for _, id := range in.CylinderIDs {
			c, err := activeCylinder(ctx, tx, id)
			if err != nil {
				return err
			}
			if c.Location != in.From {
				return &StaleSelectionError{
					CylinderID: c.ID, Field: "location",
					Expected: string(in.From), Actual: string(c.Location),
				}
			}
			t := Transfer{
				ID:                  TransferID(e.core.newID()),
				CylinderID:          c.ID,
				FromLocation:        in.From,
				ToLocation:          in.To,
				OperatorName:        in.OperatorName,
				TransferNumber:      in.TransferNumber,
				NotaEnvioNumber:     in.NotaEnvioNumber,
				DeliveryOrderNumber: in.DeliveryOrderNumber,
				TripClosure:         in.TripClosure && in.reference() == "",
				PreviousStatus:      c.Status,
				Observations:        in.Observations,
				CreatedAt:           now,
			}
			if forcesEmpty(in.From, in.To) && c.Status != StatusEmpty {
				c.Status = StatusEmpty
				t.StatusForced = true
			}
			c.Location = in.To
			c.UpdatedAt = now
			if err := tx.UpdateCylinder(ctx, c); err != nil {
				return err
			}
			res.Transfers = append(res.Transfers, t)
		}
		if err := tx.InsertTransfers(ctx, res.Transfers); err != nil {
			return err
		}
		if in.TripClosure {
			res.ClosedTrips = len(res.Transfers)
			if ref := in.reference(); ref != "" {
				n, err := tx.CloseTrip(ctx, ref)
				if err != nil {
					return err
				}
				res.ClosedTrips = n
				for i := range res.Transfers {
					res.Transfers[i].TripClosure = true
				}
			}
		}
		for _, t := range res.Transfers {
			emit(Event{Type: EventTransferCreated, Kind: KindTransfer, RecordID: string(t.ID)})
			emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(t.CylinderID)})
		}
		return nil
	})
	if err != nil {
		return TransferBatchResult{}, err
	}
	res.Count = len(res.Transfers)
	return res, nil
}

// CloseTrip finalizes every transfer sharing reference.
func (e *Engine) CloseTrip(ctx context.Context, reference string) (int, error) {
	if blank(reference) {
		return 0, invalid("reference", "is required")
	}
	closed := 0
	err := e.core.run(ctx, "close trip", func(tx Store, emit emitFunc) error {
		n, err := tx.CloseTrip(ctx, reference)
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound(KindTransfer, "reference "+reference)
		}
		closed = n
		return nil
	})
	return closed, err
}

// OpenBatch is a not yet closed transfer batch waiting at a location.
type OpenBatch struct {
	Reference   string
	Location    Location
	CylinderIDs []CylinderID
	OpenedAt    time.Time
}

// OpenBatches lists open transfer batches whose destination is location.
// Downstream stages (route -> customer, customer -> return, ...) pick
// their candidates from here.
func (e *Engine) OpenBatches(ctx context.Context, location Location) ([]OpenBatch, error) {
	if !location.Valid() {
		return nil, invalid("location", "unknown location")
	}
	transfers, err := e.Transfers(ctx, TransferFilter{ToLocation: &location, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	byRef := make(map[string]*OpenBatch)
	var order []string
	for _, t := range transfers {
		ref := t.Reference()
		if ref == "" {
			continue
		}
		b, ok := byRef[ref]
		if !ok {
			b = &OpenBatch{Reference: ref, Location: location, OpenedAt: t.CreatedAt}
			byRef[ref] = b
			order = append(order, ref)
		}
		b.CylinderIDs = append(b.CylinderIDs, t.CylinderID)
		if t.CreatedAt.Before(b.OpenedAt) {
			b.OpenedAt = t.CreatedAt
		}
	}
	out := make([]OpenBatch, 0, len(order))
	for _, ref := range order {
		out = append(out, *byRef[ref])
	}
	return out, nil
}

func (e *Engine) Transfers(ctx context.Context, filter TransferFilter) ([]Transfer, error) {
	return readRetry(ctx, "list transfers", func(ctx context.Context) ([]Transfer, error) {
		return e.core.store.ListTransfers(ctx, filter)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedCylinderIDs(m map[CylinderID]decimal.Decimal) []CylinderID {
	ids := make([]CylinderID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeys(m map[CylinderID]Filling) []CylinderID {
	ids := make([]CylinderID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
