/*
Package ledger provides the CO2 inventory ledger.

PURPOSE:
  This package holds the rules for how CO2 cylinders move between physical
  locations, how they get filled from the bulk tank, and how mistakes get
  undone. Forms and list views in the dashboard are thin wrappers around it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Cylinder: a physical unit with a (status, location) pair
  - Filling / Transfer: per-cylinder ledger rows created in batches
  - Tank / TankMovement: the bulk storage tank and its signed movements
  - InventoryAdjustment: manual correction after a physical count
  - ApprovalLog: append-only audit trail of edits, deletes and approvals
  - RecordKind: the closed set of record kinds the audit trail refers to

DESIGN PRINCIPLES:
  1. Rows are never deleted: ledger rows are reversed, cylinders are soft-deleted
  2. Precision: kilograms are decimal.Decimal, never float64
  3. Batches are atomic: all rows and all registry updates commit together
  4. Auditability: every manual change carries an actor and a comment

SEE ALSO:
  - registry.go: Cylinder Registry
  - movement.go: fillings and transfers
  - tank.go: Tank Ledger
  - reversal.go: Reversal Engine
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CylinderID string
type FillingID string
type TransferID string
type TankID string
type TankMovementID string
type AdjustmentID string

// DefaultTankID identifies the singleton bulk tank.
const DefaultTankID TankID = "main"

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Capacity is the nominal CO2 capacity of a cylinder.
type Capacity string

const (
	Capacity9kg  Capacity = "9kg"
	Capacity22kg Capacity = "22kg"
	Capacity25kg Capacity = "25kg"
)

func (c Capacity) Valid() bool {
	switch c {
	case Capacity9kg, Capacity22kg, Capacity25kg:
		return true
	}
	return false
}

// Status is the fill state of a cylinder.
type Status string

const (
	StatusEmpty       Status = "empty"
	StatusFull        Status = "full"
	StatusBeingFilled Status = "being_filled"
	StatusMaintenance Status = "maintenance"
)

func (s Status) Valid() bool {
	switch s {
	case StatusEmpty, StatusFull, StatusBeingFilled, StatusMaintenance:
		return true
	}
	return false
}

// Location is one of the fixed physical places a cylinder can be.
type Location string

const (
	LocationDispatch       Location = "dispatch"
	LocationFillingStation Location = "filling_station"
	LocationRoutes         Location = "routes"
	LocationCustomers      Location = "customers"
	LocationCustomerReturn Location = "customer_return"
	LocationRouteClosure   Location = "route_closure"
	LocationMaintenance    Location = "maintenance"
	LocationOutOfService   Location = "out_of_service"
)

// Locations lists every location in dashboard order.
var Locations = []Location{
	LocationDispatch,
	LocationFillingStation,
	LocationRoutes,
	LocationCustomers,
	LocationCustomerReturn,
	LocationRouteClosure,
	LocationMaintenance,
	LocationOutOfService,
}

func (l Location) Valid() bool {
	for _, known := range Locations {
		if l == known {
			return true
		}
	}
	return false
}

// MovementType is the direction of a tank movement.
type MovementType string

const (
	MovementEntrance MovementType = "entrance"
	MovementExit     MovementType = "exit"
)

// AdjustmentType is the kind of change an inventory adjustment row records.
type AdjustmentType string

const (
	AdjustmentStatusChange   AdjustmentType = "status_change"
	AdjustmentLocationChange AdjustmentType = "location_change"
	AdjustmentCorrection     AdjustmentType = "correction"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentStatusChange, AdjustmentLocationChange, AdjustmentCorrection:
		return true
	}
	return false
}

// RecordKind is the closed set of record kinds the ledger manages.
// Audit rows and reversals refer to records through a kind, never a table name.
type RecordKind string

const (
	KindCylinder     RecordKind = "cylinder"
	KindFilling      RecordKind = "filling"
	KindTransfer     RecordKind = "transfer"
	KindTankMovement RecordKind = "tank_movement"
	KindAdjustment   RecordKind = "adjustment"
)

func (k RecordKind) Valid() bool {
	switch k {
	case KindCylinder, KindFilling, KindTransfer, KindTankMovement, KindAdjustment:
		return true
	}
	return false
}

// Reversible reports whether records of this kind can be reversed.
func (k RecordKind) Reversible() bool {
	return k == KindFilling || k == KindTransfer || k == KindTankMovement
}

// RecordRef points at one record of a given kind.
type RecordRef struct {
	Kind RecordKind
	ID   string
}

// =============================================================================
// CYLINDER
// =============================================================================

// HydrostaticTestYears is the time between mandatory hydrostatic tests.
const HydrostaticTestYears = 5

// NextTestDue returns the date the next hydrostatic test is due, or the
// zero time when the cylinder was never tested.
func NextTestDue(lastTest time.Time) time.Time {
	if lastTest.IsZero() {
		return time.Time{}
	}
	return lastTest.AddDate(HydrostaticTestYears, 0, 0)
}

type Cylinder struct {
	ID                  CylinderID
	SerialNumber        string
	Capacity            Capacity
	ValveType           string
	ManufacturingDate   time.Time
	LastHydrostaticTest time.Time
	NextTestDue         time.Time
	Status              Status
	Location            Location
	IsActive            bool
	CustomerOwned       bool
	CustomerInfo        string
	Observations        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// =============================================================================
// REVERSAL - shared by every reversible ledger row
// =============================================================================

// Reversal records who undid a ledger row and why.
// A row with IsReversed=true is terminal.
type Reversal struct {
	IsReversed     bool
	ReversedAt     *time.Time
	ReversedBy     string
	ReversalReason string
}

// =============================================================================
// FILLING
// =============================================================================

type Filling struct {
	ID                  FillingID
	CylinderID          CylinderID
	TankID              TankID
	WeightFilled        decimal.Decimal
	OperatorName        string
	BatchNumber         string // empty for a one-off filling
	FilledAt            time.Time
	IsApproved          bool
	ApprovedBy          string
	ShrinkagePercentage decimal.Decimal
	ShrinkageAmount     decimal.Decimal
	PreviousStatus      Status
	PreviousLocation    Location
	Observations        string
	Reversal
	CreatedAt time.Time
}

// =============================================================================
// TRANSFER
// =============================================================================

type Transfer struct {
	ID                  TransferID
	CylinderID          CylinderID
	FromLocation        Location
	ToLocation          Location
	OperatorName        string
	TransferNumber      string
	NotaEnvioNumber     string
	DeliveryOrderNumber string
	TripClosure         bool
	PreviousStatus      Status
	StatusForced        bool // the transfer changed the cylinder status as a side effect
	Observations        string
	Reversal
	CreatedAt time.Time
}

// Reference returns the first non-empty batch reference of the transfer.
func (t Transfer) Reference() string {
	switch {
	case t.TransferNumber != "":
		return t.TransferNumber
	case t.NotaEnvioNumber != "":
		return t.NotaEnvioNumber
	default:
		return t.DeliveryOrderNumber
	}
}

// MatchesReference reports whether any of the transfer's references equals ref.
func (t Transfer) MatchesReference(ref string) bool {
	if ref == "" {
		return false
	}
	return t.TransferNumber == ref || t.NotaEnvioNumber == ref || t.DeliveryOrderNumber == ref
}

// =============================================================================
// TANK
// =============================================================================

type Tank struct {
	ID               TankID
	Name             string
	CurrentLevel     decimal.Decimal
	Capacity         decimal.Decimal
	MinimumThreshold decimal.Decimal // percent of capacity
	UpdatedAt        time.Time
}

type TankMovement struct {
	ID                  TankMovementID
	TankID              TankID
	Type                MovementType
	Quantity            decimal.Decimal
	ShrinkagePercentage decimal.Decimal
	ShrinkageAmount     decimal.Decimal
	Supplier            string
	OperatorName        string
	ReferenceFillingID  FillingID
	Observations        string
	Reversal
	CreatedAt time.Time
}

// Total is quantity plus shrinkage, the amount that moves the tank level.
func (m TankMovement) Total() decimal.Decimal {
	return m.Quantity.Add(m.ShrinkageAmount)
}

// Delta is the signed change this movement applies to the tank level.
// Shrinkage increases the magnitude in both directions.
func (m TankMovement) Delta() decimal.Decimal {
	if m.Type == MovementExit {
		return m.Total().Neg()
	}
	return m.Total()
}

// =============================================================================
// INVENTORY ADJUSTMENT (physical count correction)
// =============================================================================

type InventoryAdjustment struct {
	ID               AdjustmentID
	BatchID          string
	Location         Location
	CylinderID       CylinderID
	Type             AdjustmentType
	PreviousStatus   Status
	NewStatus        Status
	PreviousLocation Location
	NewLocation      Location
	Reason           string
	PerformedBy      string
	AdjustmentDate   time.Time
}

// =============================================================================
// APPROVAL LOG
// =============================================================================

type AuditAction string

const (
	AuditEdit    AuditAction = "edit"
	AuditDelete  AuditAction = "delete"
	AuditApprove AuditAction = "approve"
	AuditReject  AuditAction = "reject"
	AuditReverse AuditAction = "reverse"
)

// ApprovalLog is one append-only audit row. Snapshots are JSON documents;
// an empty NewData means the record no longer exists in active views.
type ApprovalLog struct {
	ID           string
	Kind         RecordKind
	RecordID     string
	Action       AuditAction
	PreviousData []byte
	NewData      []byte
	PerformedBy  string
	Comments     string
	CreatedAt    time.Time
}
