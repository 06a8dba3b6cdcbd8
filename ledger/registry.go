/*
registry.go - Cylinder Registry

PURPOSE:
  Authoritative current state of every cylinder. Every other component
  reads candidate sets from here and mutates (status, location) through
  the same store transaction it writes its ledger rows in.

INVARIANTS:
  - NextTestDue == LastHydrostaticTest + 5 years, after every write
  - Inactive cylinders are invisible to active views and candidate pools,
    but their ledger rows stay
  - CustomerInfo is set if and only if CustomerOwned
  - Manual edits and soft deletes carry a non-empty audit comment and
    leave an ApprovalLog row with before/after snapshots

EDITING:
  Edits follow load snapshot -> edit draft -> submit diff. The caller owns
  the CylinderPatch; only non-nil fields are applied.
*/
package ledger

import (
	"context"
	"time"
)

type Registry struct {
	core *core
}

// RegisterInput is the data needed to register a new cylinder.
type RegisterInput struct {
	SerialNumber        string   `validate:"required"`
	Capacity            Capacity `validate:"required"`
	ValveType           string
	ManufacturingDate   time.Time
	LastHydrostaticTest time.Time
	Status              Status   // defaults to empty
	Location            Location // defaults to dispatch
	CustomerOwned       bool
	CustomerInfo        string `validate:"required_if=CustomerOwned true"`
	Observations        string
}

// CylinderPatch is a caller-owned edit draft. Nil fields are left unchanged.
type CylinderPatch struct {
	SerialNumber        *string
	Capacity            *Capacity
	ValveType           *string
	ManufacturingDate   *time.Time
	LastHydrostaticTest *time.Time
	Status              *Status
	Location            *Location
	CustomerOwned       *bool
	CustomerInfo        *string
	Observations        *string
}

func (p CylinderPatch) IsEmpty() bool {
	return p == CylinderPatch{}
}

// Apply returns c with the patch applied. c itself is not modified.
func (p CylinderPatch) Apply(c Cylinder) Cylinder {
	if p.SerialNumber != nil {
		c.SerialNumber = *p.SerialNumber
	}
	if p.Capacity != nil {
		c.Capacity = *p.Capacity
	}
	if p.ValveType != nil {
		c.ValveType = *p.ValveType
	}
	if p.ManufacturingDate != nil {
		c.ManufacturingDate = *p.ManufacturingDate
	}
	if p.LastHydrostaticTest != nil {
		c.LastHydrostaticTest = *p.LastHydrostaticTest
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.CustomerOwned != nil {
		c.CustomerOwned = *p.CustomerOwned
	}
	if p.CustomerInfo != nil {
		c.CustomerInfo = *p.CustomerInfo
	}
	if p.Observations != nil {
		c.Observations = *p.Observations
	}
	c.NextTestDue = NextTestDue(c.LastHydrostaticTest)
	if !c.CustomerOwned {
		c.CustomerInfo = ""
	}
	return c
}

// StateChange is a batch (status, location) update. Nil fields are left unchanged.
type StateChange struct {
	Status   *Status
	Location *Location
}

// =============================================================================
// QUERIES
// =============================================================================

// ListActive returns active cylinders matching filter.
func (r *Registry) ListActive(ctx context.Context, filter CylinderFilter) ([]Cylinder, error) {
	filter.ActiveOnly = true
	return readRetry(ctx, "list cylinders", func(ctx context.Context) ([]Cylinder, error) {
		return r.core.store.ListCylinders(ctx, filter)
	})
}

// Get returns a cylinder by id, active or not.
func (r *Registry) Get(ctx context.Context, id CylinderID) (Cylinder, error) {
	c, err := readRetry(ctx, "get cylinder", func(ctx context.Context) (*Cylinder, error) {
		return r.core.store.GetCylinder(ctx, id)
	})
	if err != nil {
		return Cylinder{}, err
	}
	if c == nil {
		return Cylinder{}, notFound(KindCylinder, string(id))
	}
	return *c, nil
}

// Summary is the dashboard view of the active fleet.
type Summary struct {
	Total         int
	ByLocation    map[Location]int
	ByStatus      map[Status]int
	CustomerOwned int
}

// Summary counts active cylinders by location and status.
func (r *Registry) Summary(ctx context.Context) (Summary, error) {
	cylinders, err := r.ListActive(ctx, CylinderFilter{})
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		ByLocation: make(map[Location]int, len(Locations)),
		ByStatus:   make(map[Status]int, 4),
	}
	for _, l := range Locations {
		s.ByLocation[l] = 0
	}
	for _, c := range cylinders {
		s.Total++
		s.ByLocation[c.Location]++
		s.ByStatus[c.Status]++
		if c.CustomerOwned {
			s.CustomerOwned++
		}
	}
	return s, nil
}

// DueForTest returns active cylinders whose next hydrostatic test falls
// before asOf + within. Overdue cylinders are included.
func (r *Registry) DueForTest(ctx context.Context, asOf time.Time, within time.Duration) ([]Cylinder, error) {
	cutoff := asOf.Add(within)
	return r.ListActive(ctx, CylinderFilter{TestDueBefore: &cutoff})
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Register creates a cylinder.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (Cylinder, error) {
	if err := r.core.check(in); err != nil {
		return Cylinder{}, err
	}
	if !in.Capacity.Valid() {
		return Cylinder{}, invalid("capacity", "must be one of 9kg, 22kg, 25kg")
	}
	if in.Status == "" {
		in.Status = StatusEmpty
	}
	if in.Location == "" {
		in.Location = LocationDispatch
	}

	now := r.core.now()
	c := Cylinder{
		ID:                  CylinderID(r.core.newID()),
		SerialNumber:        in.SerialNumber,
		Capacity:            in.Capacity,
		ValveType:           in.ValveType,
		ManufacturingDate:   in.ManufacturingDate,
		LastHydrostaticTest: in.LastHydrostaticTest,
		NextTestDue:         NextTestDue(in.LastHydrostaticTest),
		Status:              in.Status,
		Location:            in.Location,
		IsActive:            true,
		CustomerOwned:       in.CustomerOwned,
		CustomerInfo:        in.CustomerInfo,
		Observations:        in.Observations,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if !c.CustomerOwned {
		c.CustomerInfo = ""
	}
	if err := validateCylinder(c); err != nil {
		return Cylinder{}, err
	}

	err := r.core.run(ctx, "register cylinder", func(tx Store, emit emitFunc) error {
		if err := ensureSerialFree(ctx, tx, c.SerialNumber, ""); err != nil {
			return err
		}
		if err := tx.InsertCylinder(ctx, c); err != nil {
			return err
		}
		emit(Event{Type: EventCylinderCreated, Kind: KindCylinder, RecordID: string(c.ID)})
		return nil
	})
	if err != nil {
		return Cylinder{}, err
	}
	return c, nil
}

// Edit applies a patch to an active cylinder and records the before/after
// snapshots in the approval log.
func (r *Registry) Edit(ctx context.Context, id CylinderID, patch CylinderPatch, actor, comment string) (Cylinder, error) {
	if blank(comment) {
		return Cylinder{}, invalid("comment", "an audit comment is required")
	}
	if patch.IsEmpty() {
		return Cylinder{}, invalid("", "no changes submitted")
	}

	var updated Cylinder
	err := r.core.run(ctx, "edit cylinder", func(tx Store, emit emitFunc) error {
		before, err := activeCylinder(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = patch.Apply(before)
		updated.UpdatedAt = r.core.now()
		if err := validateCylinder(updated); err != nil {
			return err
		}
		if updated.SerialNumber != before.SerialNumber {
			if err := ensureSerialFree(ctx, tx, updated.SerialNumber, id); err != nil {
				return err
			}
		}
		if err := tx.UpdateCylinder(ctx, updated); err != nil {
			return err
		}
		ref := RecordRef{Kind: KindCylinder, ID: string(id)}
		if err := r.core.audit(ctx, tx, ref, AuditEdit, before, updated, actor, comment); err != nil {
			return err
		}
		emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(id)})
		return nil
	})
	if err != nil {
		return Cylinder{}, err
	}
	return updated, nil
}

// SoftDelete deactivates a cylinder. Its ledger history is kept.
func (r *Registry) SoftDelete(ctx context.Context, id CylinderID, actor, comment string) error {
	if blank(comment) {
		return invalid("comment", "an audit comment is required")
	}
	return r.core.run(ctx, "delete cylinder", func(tx Store, emit emitFunc) error {
		before, err := activeCylinder(ctx, tx, id)
		if err != nil {
			return err
		}
		after := before
		after.IsActive = false
		after.UpdatedAt = r.core.now()
		if err := tx.UpdateCylinder(ctx, after); err != nil {
			return err
		}
		ref := RecordRef{Kind: KindCylinder, ID: string(id)}
		if err := r.core.audit(ctx, tx, ref, AuditDelete, before, nil, actor, comment); err != nil {
			return err
		}
		emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(id)})
		return nil
	})
}

// ApplyStatusAndLocation updates every cylinder in ids, or none of them.
func (r *Registry) ApplyStatusAndLocation(ctx context.Context, ids []CylinderID, change StateChange) error {
	if len(ids) == 0 {
		return invalid("cylinder_ids", "at least one cylinder is required")
	}
	if change.Status == nil && change.Location == nil {
		return invalid("", "no changes submitted")
	}
	if change.Status != nil && !change.Status.Valid() {
		return invalid("status", "unknown status")
	}
	if change.Location != nil && !change.Location.Valid() {
		return invalid("location", "unknown location")
	}
	if err := uniqueIDs(ids); err != nil {
		return err
	}

	return r.core.run(ctx, "apply cylinder state", func(tx Store, emit emitFunc) error {
		now := r.core.now()
		for _, id := range ids {
			c, err := activeCylinder(ctx, tx, id)
			if err != nil {
				return err
			}
			if change.Status != nil {
				c.Status = *change.Status
			}
			if change.Location != nil {
				c.Location = *change.Location
			}
			c.UpdatedAt = now
			if err := tx.UpdateCylinder(ctx, c); err != nil {
				return err
			}
			emit(Event{Type: EventCylinderUpdated, Kind: KindCylinder, RecordID: string(id)})
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func activeCylinder(ctx context.Context, tx Store, id CylinderID) (Cylinder, error) {
	c, err := tx.GetCylinder(ctx, id)
	if err != nil {
		return Cylinder{}, err
	}
	if c == nil || !c.IsActive {
		return Cylinder{}, notFound(KindCylinder, string(id))
	}
	return *c, nil
}

func ensureSerialFree(ctx context.Context, tx Store, serial string, self CylinderID) error {
	existing, err := tx.GetCylinderBySerial(ctx, serial)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return invalid("serial_number", "serial number "+serial+" is already registered")
	}
	return nil
}

func validateCylinder(c Cylinder) error {
	switch {
	case blank(c.SerialNumber):
		return invalid("serial_number", "is required")
	case !c.Capacity.Valid():
		return invalid("capacity", "must be one of 9kg, 22kg, 25kg")
	case c.ManufacturingDate.IsZero():
		return invalid("manufacturing_date", "is required")
	case c.LastHydrostaticTest.IsZero():
		return invalid("last_hydrostatic_test", "is required")
	case c.LastHydrostaticTest.Before(c.ManufacturingDate):
		return invalid("last_hydrostatic_test", "cannot be before the manufacturing date")
	case !c.Status.Valid():
		return invalid("status", "unknown status")
	case !c.Location.Valid():
		return invalid("location", "unknown location")
	case c.CustomerOwned && blank(c.CustomerInfo):
		return invalid("customer_info", "is required for customer-owned cylinders")
	}
	return nil
}

func uniqueIDs(ids []CylinderID) error {
	seen := make(map[CylinderID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return invalid("cylinder_ids", "cylinder "+string(id)+" selected twice")
		}
		seen[id] = true
	}
	return nil
}
