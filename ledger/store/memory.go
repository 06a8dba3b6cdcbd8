// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/co2-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// tables holds every row. Rows are kept in insertion order; lists are
// returned newest first.
type tables struct {
	cylinders   []ledger.Cylinder
	fillings    []ledger.Filling
	transfers   []ledger.Transfer
	tanks       map[ledger.TankID]ledger.Tank
	movements   []ledger.TankMovement
	adjustments []ledger.InventoryAdjustment
	audit       []ledger.ApprovalLog
}

func newTables() *tables {
	return &tables{tanks: make(map[ledger.TankID]ledger.Tank)}
}

func (t *tables) clone() *tables {
	c := &tables{
		cylinders:   append([]ledger.Cylinder(nil), t.cylinders...),
		fillings:    append([]ledger.Filling(nil), t.fillings...),
		transfers:   append([]ledger.Transfer(nil), t.transfers...),
		tanks:       make(map[ledger.TankID]ledger.Tank, len(t.tanks)),
		movements:   append([]ledger.TankMovement(nil), t.movements...),
		adjustments: append([]ledger.InventoryAdjustment(nil), t.adjustments...),
		audit:       append([]ledger.ApprovalLog(nil), t.audit...),
	}
	for k, v := range t.tanks {
		c.tanks[k] = v
	}
	return c
}

// ===== CYLINDERS =====

func (t *tables) InsertCylinder(_ context.Context, c ledger.Cylinder) error {
	if t.cylinderIndex(c.ID) >= 0 {
		return errDuplicate("cylinder", string(c.ID))
	}
	t.cylinders = append(t.cylinders, c)
	return nil
}

func (t *tables) UpdateCylinder(_ context.Context, c ledger.Cylinder) error {
	i := t.cylinderIndex(c.ID)
	if i < 0 {
		return errMissing("cylinder", string(c.ID))
	}
	t.cylinders[i] = c
	return nil
}

func (t *tables) GetCylinder(_ context.Context, id ledger.CylinderID) (*ledger.Cylinder, error) {
	if i := t.cylinderIndex(id); i >= 0 {
		c := t.cylinders[i]
		return &c, nil
	}
	return nil, nil
}

func (t *tables) GetCylinderBySerial(_ context.Context, serial string) (*ledger.Cylinder, error) {
	for _, c := range t.cylinders {
		if c.SerialNumber == serial {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *tables) ListCylinders(_ context.Context, f ledger.CylinderFilter) ([]ledger.Cylinder, error) {
	var ids map[ledger.CylinderID]bool
	if len(f.IDs) > 0 {
		ids = make(map[ledger.CylinderID]bool, len(f.IDs))
		for _, id := range f.IDs {
			ids[id] = true
		}
	}
	var out []ledger.Cylinder
	for i := len(t.cylinders) - 1; i >= 0; i-- {
		c := t.cylinders[i]
		switch {
		case ids != nil && !ids[c.ID],
			f.ActiveOnly && !c.IsActive,
			f.Location != nil && c.Location != *f.Location,
			f.Status != nil && c.Status != *f.Status,
			f.Capacity != nil && c.Capacity != *f.Capacity,
			f.CustomerOwned != nil && c.CustomerOwned != *f.CustomerOwned,
			f.TestDueBefore != nil && !c.NextTestDue.Before(*f.TestDueBefore):
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tables) cylinderIndex(id ledger.CylinderID) int {
	for i := range t.cylinders {
		if t.cylinders[i].ID == id {
			return i
		}
	}
	return -1
}

// ===== FILLINGS =====

func (t *tables) InsertFillings(_ context.Context, fillings []ledger.Filling) error {
	for _, f := range fillings {
		if t.fillingIndex(f.ID) >= 0 {
			return errDuplicate("filling", string(f.ID))
		}
	}
	t.fillings = append(t.fillings, fillings...)
	return nil
}

func (t *tables) UpdateFilling(_ context.Context, f ledger.Filling) error {
	i := t.fillingIndex(f.ID)
	if i < 0 {
		return errMissing("filling", string(f.ID))
	}
	t.fillings[i] = f
	return nil
}

func (t *tables) GetFilling(_ context.Context, id ledger.FillingID) (*ledger.Filling, error) {
	if i := t.fillingIndex(id); i >= 0 {
		f := t.fillings[i]
		return &f, nil
	}
	return nil, nil
}

func (t *tables) ListFillings(_ context.Context, f ledger.FillingFilter) ([]ledger.Filling, error) {
	var out []ledger.Filling
	for i := len(t.fillings) - 1; i >= 0; i-- {
		row := t.fillings[i]
		switch {
		case f.BatchNumber != "" && row.BatchNumber != f.BatchNumber,
			f.CylinderID != "" && row.CylinderID != f.CylinderID,
			!f.IncludeReversed && row.IsReversed:
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tables) fillingIndex(id ledger.FillingID) int {
	for i := range t.fillings {
		if t.fillings[i].ID == id {
			return i
		}
	}
	return -1
}

// ===== TRANSFERS =====

func (t *tables) InsertTransfers(_ context.Context, transfers []ledger.Transfer) error {
	for _, tr := range transfers {
		if t.transferIndex(tr.ID) >= 0 {
			return errDuplicate("transfer", string(tr.ID))
		}
	}
	t.transfers = append(t.transfers, transfers...)
	return nil
}

func (t *tables) UpdateTransfer(_ context.Context, tr ledger.Transfer) error {
	i := t.transferIndex(tr.ID)
	if i < 0 {
		return errMissing("transfer", string(tr.ID))
	}
	t.transfers[i] = tr
	return nil
}

func (t *tables) GetTransfer(_ context.Context, id ledger.TransferID) (*ledger.Transfer, error) {
	if i := t.transferIndex(id); i >= 0 {
		tr := t.transfers[i]
		return &tr, nil
	}
	return nil, nil
}

func (t *tables) ListTransfers(_ context.Context, f ledger.TransferFilter) ([]ledger.Transfer, error) {
	var out []ledger.Transfer
	for i := len(t.transfers) - 1; i >= 0; i-- {
		row := t.transfers[i]
		switch {
		case f.Reference != "" && !row.MatchesReference(f.Reference),
			f.CylinderID != "" && row.CylinderID != f.CylinderID,
			f.ToLocation != nil && row.ToLocation != *f.ToLocation,
			f.OpenOnly && row.TripClosure,
			!f.IncludeReversed && row.IsReversed:
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tables) CloseTrip(_ context.Context, reference string) (int, error) {
	n := 0
	for i := range t.transfers {
		if t.transfers[i].MatchesReference(reference) && !t.transfers[i].TripClosure {
			t.transfers[i].TripClosure = true
			n++
		}
	}
	return n, nil
}

func (t *tables) transferIndex(id ledger.TransferID) int {
	for i := range t.transfers {
		if t.transfers[i].ID == id {
			return i
		}
	}
	return -1
}

// ===== TANK =====

func (t *tables) GetTank(_ context.Context, id ledger.TankID) (*ledger.Tank, error) {
	if tank, ok := t.tanks[id]; ok {
		return &tank, nil
	}
	return nil, nil
}

func (t *tables) SaveTank(_ context.Context, tank ledger.Tank) error {
	t.tanks[tank.ID] = tank
	return nil
}

func (t *tables) SwapTankLevel(_ context.Context, id ledger.TankID, expected, next decimal.Decimal, at time.Time) error {
	tank, ok := t.tanks[id]
	if !ok {
		return errMissing("tank", string(id))
	}
	if !tank.CurrentLevel.Equal(expected) {
		return ledger.ErrConcurrentModification
	}
	tank.CurrentLevel = next
	tank.UpdatedAt = at
	t.tanks[id] = tank
	return nil
}

func (t *tables) InsertTankMovement(_ context.Context, m ledger.TankMovement) error {
	if t.movementIndex(m.ID) >= 0 {
		return errDuplicate("tank movement", string(m.ID))
	}
	t.movements = append(t.movements, m)
	return nil
}

func (t *tables) UpdateTankMovement(_ context.Context, m ledger.TankMovement) error {
	i := t.movementIndex(m.ID)
	if i < 0 {
		return errMissing("tank movement", string(m.ID))
	}
	t.movements[i] = m
	return nil
}

func (t *tables) GetTankMovement(_ context.Context, id ledger.TankMovementID) (*ledger.TankMovement, error) {
	if i := t.movementIndex(id); i >= 0 {
		m := t.movements[i]
		return &m, nil
	}
	return nil, nil
}

func (t *tables) ListTankMovements(_ context.Context, f ledger.TankMovementFilter) ([]ledger.TankMovement, error) {
	var out []ledger.TankMovement
	for i := len(t.movements) - 1; i >= 0; i-- {
		row := t.movements[i]
		switch {
		case f.TankID != "" && row.TankID != f.TankID,
			f.Type != nil && row.Type != *f.Type,
			f.ReferenceFillingID != "" && row.ReferenceFillingID != f.ReferenceFillingID,
			!f.IncludeReversed && row.IsReversed:
			continue
		}
		out = append(out, row)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *tables) movementIndex(id ledger.TankMovementID) int {
	for i := range t.movements {
		if t.movements[i].ID == id {
			return i
		}
	}
	return -1
}

// ===== ADJUSTMENTS & AUDIT =====

func (t *tables) InsertAdjustments(_ context.Context, adjustments []ledger.InventoryAdjustment) error {
	t.adjustments = append(t.adjustments, adjustments...)
	return nil
}

func (t *tables) ListAdjustments(_ context.Context, f ledger.AdjustmentFilter) ([]ledger.InventoryAdjustment, error) {
	var out []ledger.InventoryAdjustment
	for i := len(t.adjustments) - 1; i >= 0; i-- {
		row := t.adjustments[i]
		switch {
		case f.BatchID != "" && row.BatchID != f.BatchID,
			f.CylinderID != "" && row.CylinderID != f.CylinderID,
			f.Location != nil && row.Location != *f.Location:
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tables) AppendApprovalLog(_ context.Context, entry ledger.ApprovalLog) error {
	t.audit = append(t.audit, entry)
	return nil
}

func (t *tables) ListApprovalLogs(_ context.Context, f ledger.AuditFilter) ([]ledger.ApprovalLog, error) {
	var out []ledger.ApprovalLog
	for i := len(t.audit) - 1; i >= 0; i-- {
		row := t.audit[i]
		switch {
		case f.Kind != nil && row.Kind != *f.Kind,
			f.RecordID != "" && row.RecordID != f.RecordID,
			f.Action != nil && row.Action != *f.Action:
			continue
		}
		out = append(out, row)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory is a ledger.TxStore kept in memory. Every call takes the store
// lock; WithTx holds it for the whole transaction.
type TxMemory struct {
	mu sync.RWMutex
	t  *tables
}

func NewTxMemory() *TxMemory {
	return &TxMemory{t: newTables()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.t.clone()
	if err := fn(m.t); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

// Reset drops every row.
func (m *TxMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = newTables()
}

func read[T any](m *TxMemory, fn func(*tables) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.t)
}

func write(m *TxMemory, fn func(*tables) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.t)
}

func (m *TxMemory) InsertCylinder(ctx context.Context, c ledger.Cylinder) error {
	return write(m, func(t *tables) error { return t.InsertCylinder(ctx, c) })
}

func (m *TxMemory) UpdateCylinder(ctx context.Context, c ledger.Cylinder) error {
	return write(m, func(t *tables) error { return t.UpdateCylinder(ctx, c) })
}

func (m *TxMemory) GetCylinder(ctx context.Context, id ledger.CylinderID) (*ledger.Cylinder, error) {
	return read(m, func(t *tables) (*ledger.Cylinder, error) { return t.GetCylinder(ctx, id) })
}

func (m *TxMemory) GetCylinderBySerial(ctx context.Context, serial string) (*ledger.Cylinder, error) {
	return read(m, func(t *tables) (*ledger.Cylinder, error) { return t.GetCylinderBySerial(ctx, serial) })
}

func (m *TxMemory) ListCylinders(ctx context.Context, f ledger.CylinderFilter) ([]ledger.Cylinder, error) {
	return read(m, func(t *tables) ([]ledger.Cylinder, error) { return t.ListCylinders(ctx, f) })
}

func (m *TxMemory) InsertFillings(ctx context.Context, fillings []ledger.Filling) error {
	return write(m, func(t *tables) error { return t.InsertFillings(ctx, fillings) })
}

func (m *TxMemory) UpdateFilling(ctx context.Context, f ledger.Filling) error {
	return write(m, func(t *tables) error { return t.UpdateFilling(ctx, f) })
}

func (m *TxMemory) GetFilling(ctx context.Context, id ledger.FillingID) (*ledger.Filling, error) {
	return read(m, func(t *tables) (*ledger.Filling, error) { return t.GetFilling(ctx, id) })
}

func (m *TxMemory) ListFillings(ctx context.Context, f ledger.FillingFilter) ([]ledger.Filling, error) {
	return read(m, func(t *tables) ([]ledger.Filling, error) { return t.ListFillings(ctx, f) })
}

func (m *TxMemory) InsertTransfers(ctx context.Context, transfers []ledger.Transfer) error {
	return write(m, func(t *tables) error { return t.InsertTransfers(ctx, transfers) })
}

func (m *TxMemory) UpdateTransfer(ctx context.Context, tr ledger.Transfer) error {
	return write(m, func(t *tables) error { return t.UpdateTransfer(ctx, tr) })
}

func (m *TxMemory) GetTransfer(ctx context.Context, id ledger.TransferID) (*ledger.Transfer, error) {
	return read(m, func(t *tables) (*ledger.Transfer, error) { return t.GetTransfer(ctx, id) })
}

func (m *TxMemory) ListTransfers(ctx context.Context, f ledger.TransferFilter) ([]ledger.Transfer, error) {
	return read(m, func(t *tables) ([]ledger.Transfer, error) { return t.ListTransfers(ctx, f) })
}

func (m *TxMemory) CloseTrip(ctx context.Context, reference string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CloseTrip(ctx, reference)
}

func (m *TxMemory) GetTank(ctx context.Context, id ledger.TankID) (*ledger.Tank, error) {
	return read(m, func(t *tables) (*ledger.Tank, error) { return t.GetTank(ctx, id) })
}

func (m *TxMemory) SaveTank(ctx context.Context, tank ledger.Tank) error {
	return write(m, func(t *tables) error { return t.SaveTank(ctx, tank) })
}

func (m *TxMemory) SwapTankLevel(ctx context.Context, id ledger.TankID, expected, next decimal.Decimal, at time.Time) error {
	return write(m, func(t *tables) error { return t.SwapTankLevel(ctx, id, expected, next, at) })
}

func (m *TxMemory) InsertTankMovement(ctx context.Context, mv ledger.TankMovement) error {
	return write(m, func(t *tables) error { return t.InsertTankMovement(ctx, mv) })
}

func (m *TxMemory) UpdateTankMovement(ctx context.Context, mv ledger.TankMovement) error {
	return write(m, func(t *tables) error { return t.UpdateTankMovement(ctx, mv) })
}

func (m *TxMemory) GetTankMovement(ctx context.Context, id ledger.TankMovementID) (*ledger.TankMovement, error) {
	return read(m, func(t *tables) (*ledger.TankMovement, error) { return t.GetTankMovement(ctx, id) })
}

func (m *TxMemory) ListTankMovements(ctx context.Context, f ledger.TankMovementFilter) ([]ledger.TankMovement, error) {
	return read(m, func(t *tables) ([]ledger.TankMovement, error) { return t.ListTankMovements(ctx, f) })
}

func (m *TxMemory) InsertAdjustments(ctx context.Context, adjustments []ledger.InventoryAdjustment) error {
	return write(m, func(t *tables) error { return t.InsertAdjustments(ctx, adjustments) })
}

func (m *TxMemory) ListAdjustments(ctx context.Context, f ledger.AdjustmentFilter) ([]ledger.InventoryAdjustment, error) {
	return read(m, func(t *tables) ([]ledger.InventoryAdjustment, error) { return t.ListAdjustments(ctx, f) })
}

func (m *TxMemory) AppendApprovalLog(ctx context.Context, entry ledger.ApprovalLog) error {
	return write(m, func(t *tables) error { return t.AppendApprovalLog(ctx, entry) })
}

func (m *TxMemory) ListApprovalLogs(ctx context.Context, f ledger.AuditFilter) ([]ledger.ApprovalLog, error) {
	return read(m, func(t *tables) ([]ledger.ApprovalLog, error) { return t.ListApprovalLogs(ctx, f) })
}

func errDuplicate(table, id string) error {
	return fmt.Errorf("%s %s already exists", table, id)
}

func errMissing(table, id string) error {
	return fmt.Errorf("%s %s does not exist", table, id)
}

var (
	_ ledger.TxStore = (*TxMemory)(nil)
	_ ledger.Store   = (*tables)(nil)
)
