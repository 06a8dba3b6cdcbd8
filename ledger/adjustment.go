package ledger

import (
	"context"
)

// Adjuster records physical count corrections. One call is one adjustment
// batch: a row per cylinder, all sharing a batch id, applied atomically.
type Adjuster struct {
	core *core
}

type AdjustmentInput struct {
	Location    Location       `validate:"required"` // where the count was taken
	Type        AdjustmentType `validate:"required"`
	CylinderIDs []CylinderID   `validate:"min=1"`
	NewStatus   Status
	NewLocation Location
	Reason      string `validate:"required"`
	PerformedBy string `validate:"required"`
}

func (in AdjustmentInput) verify() error {
	if !in.Location.Valid() {
		return invalid("location", "unknown location")
	}
	if !in.Type.Valid() {
		return invalid("type", "unknown adjustment type")
	}
	if in.NewStatus != "" && !in.NewStatus.Valid() {
		return invalid("new_status", "unknown status")
	}
	if in.NewLocation != "" && !in.NewLocation.Valid() {
		return invalid("new_location", "unknown location")
	}
	switch in.Type {
	case AdjustmentStatusChange:
		if in.NewStatus == "" {
			return invalid("new_status", "is required for a status change")
		}
	case AdjustmentLocationChange:
		if in.NewLocation == "" {
			return invalid("new_location", "is required for a location change")
		}
	case AdjustmentCorrection:
		if in.NewStatus == "" && in.NewLocation == "" {
			return invalid("", "a correction must change the status or the location")
		}
	}
	return nil
}

type AdjustmentResult struct {
	BatchID     string
	Adjustments []InventoryAdjustment
}

// Adjust applies the correction to every cylinder in the batch, or none.
func (a *Adjuster) Adjust(ctx context.Context, in AdjustmentInput) (AdjustmentResult, error) {
	if err := a.core.check(in); err != nil {
		return AdjustmentResult{}, err
	}
	if blank(in.Reason) {
		return AdjustmentResult{}, invalid("reason", "is required")
	}
	if err := in.verify(); err != nil {
		return AdjustmentResult{}, err
	}
	if err := uniqueIDs(in.CylinderIDs); err != nil {
		return AdjustmentResult{}, err
	}

	res := AdjustmentResult{BatchID: a.core.newID()}
	err := a.core.run(ctx, "adjust inventory", func(tx Store, emit emitFunc) error {
		res.Adjustments = res.Adjustments[:0]
		now := a.core.now()
		for _, id := range in.CylinderIDs {
			c, err := activeCylinder(ctx, tx, id)
			if err != nil {
				return err
			}
			adj := InventoryAdjustment{
				ID:               AdjustmentID(a.core.newID()),
				BatchID:          res.BatchID,
				Location:         in.Location,
				CylinderID:       c.ID,
				Type:             in.Type,
				PreviousStatus:   c.Status,
				NewStatus:        c.Status,
				PreviousLocation: c.Location,
				NewLocation:      c.Location,
				Reason:           in.Reason,
				PerformedBy:      in.PerformedBy,
				AdjustmentDate:   now,
			}
			if in.NewStatus != "" {
				adj.NewStatus = in.NewStatus
			}
			if in.NewLocation != "" {
				adj.NewLocation = in.NewLocation
			}
			c.Status = adj.NewStatus
			c.Location = adj.NewLocation
			c.UpdatedAt = now
			if err := tx.UpdateCylinder(ctx, c); err != nil {
				return err
			}
			res.Adjustments = append(res.Adjustments, adj)
		}
		if err := tx.InsertAdjustments(ctx, res.Adjustments); err != nil {
			return err
		}
		for _, adj := range res.Adjustments {
			emit(Event{Type: EventAdjustmentCreated, Kind: KindAdjustment, RecordID: string(adj.ID)})
			emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(adj.CylinderID)})
		}
		return nil
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	return res, nil
}

func (a *Adjuster) List(ctx context.Context, filter AdjustmentFilter) ([]InventoryAdjustment, error) {
	return readRetry(ctx, "list adjustments", func(ctx context.Context) ([]InventoryAdjustment, error) {
		return a.core.store.ListAdjustments(ctx, filter)
	})
}
