/*
store.go - Persistence interface for the ledger tables

PURPOSE:
  Defines the interface between ledger logic and the database. The store
  is a typed record layer: one small interface per table, each offering
  insert, update and query-by-filter. There is no delete.

KEY INTERFACES:
  CylinderStore, FillingStore, TransferStore, TankStore,
  AdjustmentStore, ApprovalLogStore: one per table
  Store:   all of the above
  TxStore: Store plus WithTx for atomic multi-table writes

ATOMIC BATCHES:
  Every ledger operation runs inside WithTx. A filling batch of 20
  cylinders writes 20 filling rows and 20 cylinder updates, or nothing.

TANK LEVEL:
  SwapTankLevel is a compare-and-swap: it only writes when the stored
  level still equals the level the caller read. A mismatch returns
  ErrConcurrentModification and the caller retries the whole transaction.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite via database/sql

NOT FOUND:
  Get* methods return (nil, nil) for unknown ids. The ledger turns that
  into a NotFoundError with the right record kind.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

// CylinderFilter selects cylinders. Nil fields do not filter.
type CylinderFilter struct {
	IDs           []CylinderID
	Location      *Location
	Status        *Status
	Capacity      *Capacity
	CustomerOwned *bool
	ActiveOnly    bool
	TestDueBefore *time.Time
}

type FillingFilter struct {
	BatchNumber     string
	CylinderID      CylinderID
	IncludeReversed bool
}

type TransferFilter struct {
	Reference       string // matches transfer, nota envio or delivery order number
	CylinderID      CylinderID
	ToLocation      *Location
	OpenOnly        bool // trip_closure = false
	IncludeReversed bool
}

type TankMovementFilter struct {
	TankID             TankID
	Type               *MovementType
	ReferenceFillingID FillingID
	IncludeReversed    bool
	Limit              int
}

type AdjustmentFilter struct {
	BatchID    string
	CylinderID CylinderID
	Location   *Location
}

type AuditFilter struct {
	Kind     *RecordKind
	RecordID string
	Action   *AuditAction
	Limit    int
}

// =============================================================================
// PER-TABLE STORES
// =============================================================================

type CylinderStore interface {
	InsertCylinder(ctx context.Context, c Cylinder) error
	UpdateCylinder(ctx context.Context, c Cylinder) error
	GetCylinder(ctx context.Context, id CylinderID) (*Cylinder, error)
	GetCylinderBySerial(ctx context.Context, serial string) (*Cylinder, error)
	ListCylinders(ctx context.Context, filter CylinderFilter) ([]Cylinder, error)
}

type FillingStore interface {
	InsertFillings(ctx context.Context, fillings []Filling) error
	UpdateFilling(ctx context.Context, f Filling) error
	GetFilling(ctx context.Context, id FillingID) (*Filling, error)
	ListFillings(ctx context.Context, filter FillingFilter) ([]Filling, error)
}

type TransferStore interface {
	InsertTransfers(ctx context.Context, transfers []Transfer) error
	UpdateTransfer(ctx context.Context, t Transfer) error
	GetTransfer(ctx context.Context, id TransferID) (*Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, error)

	// CloseTrip marks every transfer matching reference as trip_closure=true.
	// Returns the number of rows changed.
	CloseTrip(ctx context.Context, reference string) (int, error)
}

type TankStore interface {
	GetTank(ctx context.Context, id TankID) (*Tank, error)
	SaveTank(ctx context.Context, t Tank) error
	SwapTankLevel(ctx context.Context, id TankID, expected, next decimal.Decimal, at time.Time) error

	InsertTankMovement(ctx context.Context, m TankMovement) error
	UpdateTankMovement(ctx context.Context, m TankMovement) error
	GetTankMovement(ctx context.Context, id TankMovementID) (*TankMovement, error)
	ListTankMovements(ctx context.Context, filter TankMovementFilter) ([]TankMovement, error)
}

type AdjustmentStore interface {
	InsertAdjustments(ctx context.Context, adjustments []InventoryAdjustment) error
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]InventoryAdjustment, error)
}

// ApprovalLogStore is append-only.
type ApprovalLogStore interface {
	AppendApprovalLog(ctx context.Context, entry ApprovalLog) error
	ListApprovalLogs(ctx context.Context, filter AuditFilter) ([]ApprovalLog, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	CylinderStore
	FillingStore
	TransferStore
	TankStore
	AdjustmentStore
	ApprovalLogStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
