/*
reversal.go - Reversal Engine

PURPOSE:
  Undoes a filling, a transfer or a tank movement. Rows are never deleted:
  the original row is flagged reversed and the registry/tank effects are
  compensated in the same transaction.

STATE MACHINE (per row):
  Active -> Reversed, terminal. A second reversal is AlreadyReversedError.

PER KIND:
  filling        status back to the status before the fill; the tank
                 consumption booked for the filling is reversed too.
  transfer       location back to the origin; a status forced by the
                 transfer is restored. Stale when the cylinder has moved on.
  tank_movement  the inverse delta is applied, with the tank bounds checked.

Every reversal appends an ApprovalLog row with action "reverse".
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

type Reverser struct {
	core *core
	tank *TankLedger
}

// Reverse undoes the row identified by ref on behalf of actor.
func (r *Reverser) Reverse(ctx context.Context, ref RecordRef, actor, reason string) error {
	if blank(actor) {
		return invalid("reversed_by", "is required")
	}
	if !ref.Kind.Reversible() {
		return invalid("kind", "records of kind "+string(ref.Kind)+" cannot be reversed")
	}
	if blank(ref.ID) {
		return invalid("id", "is required")
	}

	op := "reverse " + string(ref.Kind)
	switch ref.Kind {
	case KindFilling:
		return r.tank.locked(ctx, op, func(tx Store, emit emitFunc) error {
			return r.reverseFilling(ctx, tx, FillingID(ref.ID), actor, reason, emit)
		})
	case KindTransfer:
		return r.core.run(ctx, op, func(tx Store, emit emitFunc) error {
			return r.reverseTransfer(ctx, tx, TransferID(ref.ID), actor, reason, emit)
		})
	default:
		return r.tank.locked(ctx, op, func(tx Store, emit emitFunc) error {
			return r.reverseTankMovement(ctx, tx, TankMovementID(ref.ID), actor, reason, emit)
		})
	}
}

func (r *Reverser) mark(actor, reason string) Reversal {
	at := r.core.now()
	return Reversal{IsReversed: true, ReversedAt: &at, ReversedBy: actor, ReversalReason: reason}
}

func alreadyReversed(ref RecordRef, rv Reversal) error {
	return &AlreadyReversedError{Ref: ref, ReversedAt: rv.ReversedAt, ReversedBy: rv.ReversedBy}
}

// =============================================================================
// FILLING
// =============================================================================

func (r *Reverser) reverseFilling(ctx context.Context, tx Store, id FillingID, actor, reason string, emit emitFunc) error {
	ref := RecordRef{Kind: KindFilling, ID: string(id)}
	f, err := tx.GetFilling(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return notFound(KindFilling, string(id))
	}
	if f.IsReversed {
		return alreadyReversed(ref, f.Reversal)
	}

	c, err := activeCylinder(ctx, tx, f.CylinderID)
	if err != nil {
		return err
	}
	if c.Status != StatusFull {
		return &StaleSelectionError{
			CylinderID: c.ID, Field: "status",
			Expected: string(StatusFull), Actual: string(c.Status),
		}
	}
	c.Status = f.PreviousStatus
	if c.Status == "" {
		c.Status = StatusEmpty
	}
	// A fill pinned to the station moved the cylinder; put it back.
	if c.Location == LocationFillingStation && f.PreviousLocation != "" {
		c.Location = f.PreviousLocation
	}
	c.UpdatedAt = r.core.now()
	if err := tx.UpdateCylinder(ctx, c); err != nil {
		return err
	}

	before := *f
	f.Reversal = r.mark(actor, reason)
	if err := tx.UpdateFilling(ctx, *f); err != nil {
		return err
	}
	if err := r.core.audit(ctx, tx, ref, AuditReverse, before, *f, actor, reason); err != nil {
		return err
	}

	// Give back what the filling drew from the tank.
	linked, err := tx.ListTankMovements(ctx, TankMovementFilter{ReferenceFillingID: id})
	if err != nil {
		return err
	}
	credit := decimal.Zero
	for _, m := range linked {
		m.Reversal = r.mark(actor, reason)
		if err := tx.UpdateTankMovement(ctx, m); err != nil {
			return err
		}
		credit = credit.Sub(m.Delta())
		emit(Event{Type: EventRecordReversed, Kind: KindTankMovement, RecordID: string(m.ID)})
	}
	if !credit.IsZero() {
		if _, err := r.tank.adjustLevel(ctx, tx, credit, emit); err != nil {
			return err
		}
	}

	emit(Event{Type: EventRecordReversed, Kind: KindFilling, RecordID: string(id)})
	emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(c.ID)})
	return nil
}

// =============================================================================
// TRANSFER
// =============================================================================

func (r *Reverser) reverseTransfer(ctx context.Context, tx Store, id TransferID, actor, reason string, emit emitFunc) error {
	ref := RecordRef{Kind: KindTransfer, ID: string(id)}
	t, err := tx.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return notFound(KindTransfer, string(id))
	}
	if t.IsReversed {
		return alreadyReversed(ref, t.Reversal)
	}

	c, err := activeCylinder(ctx, tx, t.CylinderID)
	if err != nil {
		return err
	}
	if c.Location != t.ToLocation {
		return &StaleSelectionError{
			CylinderID: c.ID, Field: "location",
			Expected: string(t.ToLocation), Actual: string(c.Location),
		}
	}
	c.Location = t.FromLocation
	if t.StatusForced {
		c.Status = t.PreviousStatus
	}
	c.UpdatedAt = r.core.now()
	if err := tx.UpdateCylinder(ctx, c); err != nil {
		return err
	}

	before := *t
	t.Reversal = r.mark(actor, reason)
	if err := tx.UpdateTransfer(ctx, *t); err != nil {
		return err
	}
	if err := r.core.audit(ctx, tx, ref, AuditReverse, before, *t, actor, reason); err != nil {
		return err
	}
	emit(Event{Type: EventRecordReversed, Kind: KindTransfer, RecordID: string(id)})
	emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(c.ID)})
	return nil
}

// =============================================================================
// TANK MOVEMENT
// =============================================================================

func (r *Reverser) reverseTankMovement(ctx context.Context, tx Store, id TankMovementID, actor, reason string, emit emitFunc) error {
	ref := RecordRef{Kind: KindTankMovement, ID: string(id)}
	m, err := tx.GetTankMovement(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return notFound(KindTankMovement, string(id))
	}
	if m.IsReversed {
		return alreadyReversed(ref, m.Reversal)
	}
	if m.ReferenceFillingID != "" {
		return invalid("id", "movement belongs to filling "+string(m.ReferenceFillingID)+"; reverse the filling instead")
	}

	if _, err := r.tank.adjustLevel(ctx, tx, m.Delta().Neg(), emit); err != nil {
		return err
	}
	before := *m
	m.Reversal = r.mark(actor, reason)
	if err := tx.UpdateTankMovement(ctx, *m); err != nil {
		return err
	}
	if err := r.core.audit(ctx, tx, ref, AuditReverse, before, *m, actor, reason); err != nil {
		return err
	}
	emit(Event{Type: EventRecordReversed, Kind: KindTankMovement, RecordID: string(id)})
	return nil
}
