/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists cylinders, fillings, transfers, the tank and its movements,
  inventory adjustments and the approval log. Every query is written once
  against a querier, so the plain store and the transaction view share
  the same code.

KEY TABLES:
  cylinders:             registry of physical cylinders (soft delete via is_active)
  cylinder_fillings:     one row per filled cylinder, batch_number groups a batch
  cylinder_transfers:    one row per moved cylinder, trip_closure closes a batch
  co2_tank:              the materialized tank level
  tank_movements:        signed tank deltas, reference_filling_id links consumption
  inventory_adjustments: physical count corrections
  approval_logs:         append-only audit trail

STORAGE FORMAT:
  Decimals are TEXT in canonical decimal.String() form; times are TEXT in
  a fixed-width UTC layout so that lexical order is chronological order.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer,
  and ":memory:" databases exist per connection. A transaction owns the
  connection until it ends; other callers wait for it.
  SwapTankLevel is a compare-and-swap on current_level and reports
  ledger.ErrConcurrentModification when the row changed since it was read.

MIGRATION:
  Schema is managed by goose; migrations are embedded and applied on New().

USAGE:
  store, err := sqlite.New("./data/co2.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/warp/co2-ledger/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	// children first, foreign keys are on
	tables := []string{
		"approval_logs", "inventory_adjustments", "tank_movements",
		"cylinder_transfers", "cylinder_fillings", "co2_tank", "cylinders",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store and the transaction view
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	q querier
}

func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) (*T, error) {
	v, err := scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func execOne(ctx context.Context, q querier, what string, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("failed to update %s: %d rows affected", what, n)
	}
	return nil
}

// where accumulates AND-ed conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// =============================================================================
// CYLINDERS
// =============================================================================

const cylinderColumns = `id, serial_number, capacity, valve_type, manufacturing_date,
	last_hydrostatic_test, next_test_due, status, location, is_active, customer_owned,
	customer_info, observations, created_at, updated_at`

func (s queries) InsertCylinder(ctx context.Context, c ledger.Cylinder) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO cylinders (`+cylinderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SerialNumber, c.Capacity, nullString(c.ValveType),
		formatTime(c.ManufacturingDate), formatTime(c.LastHydrostaticTest), formatTime(c.NextTestDue),
		c.Status, c.Location, c.IsActive, c.CustomerOwned,
		nullString(c.CustomerInfo), nullString(c.Observations),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("cylinder %s: serial %s already registered: %w", c.ID, c.SerialNumber, err)
		}
		return fmt.Errorf("failed to insert cylinder: %w", err)
	}
	return nil
}

func (s queries) UpdateCylinder(ctx context.Context, c ledger.Cylinder) error {
	return execOne(ctx, s.q, "cylinder", `UPDATE cylinders SET
		serial_number = ?, capacity = ?, valve_type = ?, manufacturing_date = ?,
		last_hydrostatic_test = ?, next_test_due = ?, status = ?, location = ?,
		is_active = ?, customer_owned = ?, customer_info = ?, observations = ?, updated_at = ?
		WHERE id = ?`,
		c.SerialNumber, c.Capacity, nullString(c.ValveType), formatTime(c.ManufacturingDate),
		formatTime(c.LastHydrostaticTest), formatTime(c.NextTestDue), c.Status, c.Location,
		c.IsActive, c.CustomerOwned, nullString(c.CustomerInfo), nullString(c.Observations),
		formatTime(c.UpdatedAt), c.ID,
	)
}

func (s queries) GetCylinder(ctx context.Context, id ledger.CylinderID) (*ledger.Cylinder, error) {
	return queryOne(ctx, s.q, scanCylinder, `SELECT `+cylinderColumns+` FROM cylinders WHERE id = ?`, id)
}

func (s queries) GetCylinderBySerial(ctx context.Context, serial string) (*ledger.Cylinder, error) {
	return queryOne(ctx, s.q, scanCylinder, `SELECT `+cylinderColumns+` FROM cylinders WHERE serial_number = ?`, serial)
}

func (s queries) ListCylinders(ctx context.Context, f ledger.CylinderFilter) ([]ledger.Cylinder, error) {
	var w where
	if len(f.IDs) > 0 {
		marks := make([]string, len(f.IDs))
		args := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			marks[i] = "?"
			args[i] = id
		}
		w.add("id IN ("+strings.Join(marks, ", ")+")", args...)
	}
	if f.ActiveOnly {
		w.add("is_active = 1")
	}
	if f.Location != nil {
		w.add("location = ?", *f.Location)
	}
	if f.Status != nil {
		w.add("status = ?", *f.Status)
	}
	if f.Capacity != nil {
		w.add("capacity = ?", *f.Capacity)
	}
	if f.CustomerOwned != nil {
		w.add("customer_owned = ?", *f.CustomerOwned)
	}
	if f.TestDueBefore != nil {
		w.add("next_test_due IS NOT NULL AND next_test_due < ?", formatTime(*f.TestDueBefore))
	}
	return queryAll(ctx, s.q, scanCylinder,
		`SELECT `+cylinderColumns+` FROM cylinders`+w.String()+` ORDER BY created_at DESC, rowid DESC`,
		w.args...)
}

func scanCylinder(row scanner) (ledger.Cylinder, error) {
	var (
		c                                    ledger.Cylinder
		valveType, customerInfo, observation sql.NullString
		manufactured, lastTest, nextDue      sql.NullString
		createdAt, updatedAt                 string
	)
	err := row.Scan(
		&c.ID, &c.SerialNumber, &c.Capacity, &valveType, &manufactured,
		&lastTest, &nextDue, &c.Status, &c.Location, &c.IsActive, &c.CustomerOwned,
		&customerInfo, &observation, &createdAt, &updatedAt,
	)
	if err != nil {
		return c, err
	}
	c.ValveType = valveType.String
	c.CustomerInfo = customerInfo.String
	c.Observations = observation.String
	c.ManufacturingDate = parseNullTime(manufactured)
	c.LastHydrostaticTest = parseNullTime(lastTest)
	c.NextTestDue = parseNullTime(nextDue)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// FILLINGS
// =============================================================================

const fillingColumns = `id, cylinder_id, tank_id, weight_filled, operator_name, batch_number,
	filled_at, is_approved, approved_by, shrinkage_percentage, shrinkage_amount,
	previous_status, previous_location, observations,
	is_reversed, reversed_at, reversed_by, reversal_reason, created_at`

func (s queries) InsertFillings(ctx context.Context, fillings []ledger.Filling) error {
	for _, f := range fillings {
		_, err := s.q.ExecContext(ctx, `INSERT INTO cylinder_fillings (`+fillingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.CylinderID, f.TankID, f.WeightFilled.String(), f.OperatorName,
			nullString(f.BatchNumber), formatTime(f.FilledAt), f.IsApproved, nullString(f.ApprovedBy),
			f.ShrinkagePercentage.String(), f.ShrinkageAmount.String(),
			nullString(string(f.PreviousStatus)), nullString(string(f.PreviousLocation)),
			nullString(f.Observations),
			f.IsReversed, formatTimePtr(f.ReversedAt), nullString(f.ReversedBy), nullString(f.ReversalReason),
			formatTime(f.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert filling: %w", err)
		}
	}
	return nil
}

func (s queries) UpdateFilling(ctx context.Context, f ledger.Filling) error {
	return execOne(ctx, s.q, "filling", `UPDATE cylinder_fillings SET
		weight_filled = ?, is_approved = ?, approved_by = ?, shrinkage_amount = ?,
		observations = ?, is_reversed = ?, reversed_at = ?, reversed_by = ?, reversal_reason = ?
		WHERE id = ?`,
		f.WeightFilled.String(), f.IsApproved, nullString(f.ApprovedBy), f.ShrinkageAmount.String(),
		nullString(f.Observations), f.IsReversed, formatTimePtr(f.ReversedAt),
		nullString(f.ReversedBy), nullString(f.ReversalReason), f.ID,
	)
}

func (s queries) GetFilling(ctx context.Context, id ledger.FillingID) (*ledger.Filling, error) {
	return queryOne(ctx, s.q, scanFilling, `SELECT `+fillingColumns+` FROM cylinder_fillings WHERE id = ?`, id)
}

func (s queries) ListFillings(ctx context.Context, f ledger.FillingFilter) ([]ledger.Filling, error) {
	var w where
	if f.BatchNumber != "" {
		w.add("batch_number = ?", f.BatchNumber)
	}
	if f.CylinderID != "" {
		w.add("cylinder_id = ?", f.CylinderID)
	}
	if !f.IncludeReversed {
		w.add("is_reversed = 0")
	}
	return queryAll(ctx, s.q, scanFilling,
		`SELECT `+fillingColumns+` FROM cylinder_fillings`+w.String()+` ORDER BY created_at DESC, rowid DESC`,
		w.args...)
}

func scanFilling(row scanner) (ledger.Filling, error) {
	var (
		f                                      ledger.Filling
		weight, pct, amount                    string
		batch, approvedBy, observations        sql.NullString
		prevStatus, prevLocation               sql.NullString
		reversedAt, reversedBy, reversalReason sql.NullString
		filledAt, createdAt                    string
	)
	err := row.Scan(
		&f.ID, &f.CylinderID, &f.TankID, &weight, &f.OperatorName, &batch,
		&filledAt, &f.IsApproved, &approvedBy, &pct, &amount,
		&prevStatus, &prevLocation, &observations,
		&f.IsReversed, &reversedAt, &reversedBy, &reversalReason, &createdAt,
	)
	if err != nil {
		return f, err
	}
	if f.WeightFilled, err = decimal.NewFromString(weight); err != nil {
		return f, err
	}
	if f.ShrinkagePercentage, err = decimal.NewFromString(pct); err != nil {
		return f, err
	}
	if f.ShrinkageAmount, err = decimal.NewFromString(amount); err != nil {
		return f, err
	}
	f.BatchNumber = batch.String
	f.ApprovedBy = approvedBy.String
	f.Observations = observations.String
	f.PreviousStatus = ledger.Status(prevStatus.String)
	f.PreviousLocation = ledger.Location(prevLocation.String)
	f.ReversedAt = parseTimePtr(reversedAt)
	f.ReversedBy = reversedBy.String
	f.ReversalReason = reversalReason.String
	f.FilledAt = parseTime(filledAt)
	f.CreatedAt = parseTime(createdAt)
	return f, nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

const transferColumns = `id, cylinder_id, from_location, to_location, operator_name,
	transfer_number, nota_envio_number, delivery_order_number, trip_closure,
	previous_status, status_forced, observations,
	is_reversed, reversed_at, reversed_by, reversal_reason, created_at`

func (s queries) InsertTransfers(ctx context.Context, transfers []ledger.Transfer) error {
	for _, t := range transfers {
		_, err := s.q.ExecContext(ctx, `INSERT INTO cylinder_transfers (`+transferColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.CylinderID, t.FromLocation, t.ToLocation, t.OperatorName,
			nullString(t.TransferNumber), nullString(t.NotaEnvioNumber), nullString(t.DeliveryOrderNumber),
			t.TripClosure, nullString(string(t.PreviousStatus)), t.StatusForced, nullString(t.Observations),
			t.IsReversed, formatTimePtr(t.ReversedAt), nullString(t.ReversedBy), nullString(t.ReversalReason),
			formatTime(t.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
	}
	return nil
}

func (s queries) UpdateTransfer(ctx context.Context, t ledger.Transfer) error {
	return execOne(ctx, s.q, "transfer", `UPDATE cylinder_transfers SET
		trip_closure = ?, observations = ?,
		is_reversed = ?, reversed_at = ?, reversed_by = ?, reversal_reason = ?
		WHERE id = ?`,
		t.TripClosure, nullString(t.Observations),
		t.IsReversed, formatTimePtr(t.ReversedAt), nullString(t.ReversedBy), nullString(t.ReversalReason),
		t.ID,
	)
}

func (s queries) GetTransfer(ctx context.Context, id ledger.TransferID) (*ledger.Transfer, error) {
	return queryOne(ctx, s.q, scanTransfer, `SELECT `+transferColumns+` FROM cylinder_transfers WHERE id = ?`, id)
}

func (s queries) ListTransfers(ctx context.Context, f ledger.TransferFilter) ([]ledger.Transfer, error) {
	var w where
	if f.Reference != "" {
		w.add("(transfer_number = ? OR nota_envio_number = ? OR delivery_order_number = ?)",
			f.Reference, f.Reference, f.Reference)
	}
	if f.CylinderID != "" {
		w.add("cylinder_id = ?", f.CylinderID)
	}
	if f.ToLocation != nil {
		w.add("to_location = ?", *f.ToLocation)
	}
	if f.OpenOnly {
		w.add("trip_closure = 0")
	}
	if !f.IncludeReversed {
		w.add("is_reversed = 0")
	}
	return queryAll(ctx, s.q, scanTransfer,
		`SELECT `+transferColumns+` FROM cylinder_transfers`+w.String()+` ORDER BY created_at DESC, rowid DESC`,
		w.args...)
}

func (s queries) CloseTrip(ctx context.Context, reference string) (int, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE cylinder_transfers SET trip_closure = 1
		WHERE trip_closure = 0
		  AND (transfer_number = ? OR nota_envio_number = ? OR delivery_order_number = ?)`,
		reference, reference, reference)
	if err != nil {
		return 0, fmt.Errorf("failed to close trip: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanTransfer(row scanner) (ledger.Transfer, error) {
	var (
		t                                      ledger.Transfer
		transferNo, notaEnvio, deliveryOrder   sql.NullString
		prevStatus, observations               sql.NullString
		reversedAt, reversedBy, reversalReason sql.NullString
		createdAt                              string
	)
	err := row.Scan(
		&t.ID, &t.CylinderID, &t.FromLocation, &t.ToLocation, &t.OperatorName,
		&transferNo, &notaEnvio, &deliveryOrder, &t.TripClosure,
		&prevStatus, &t.StatusForced, &observations,
		&t.IsReversed, &reversedAt, &reversedBy, &reversalReason, &createdAt,
	)
	if err != nil {
		return t, err
	}
	t.TransferNumber = transferNo.String
	t.NotaEnvioNumber = notaEnvio.String
	t.DeliveryOrderNumber = deliveryOrder.String
	t.PreviousStatus = ledger.Status(prevStatus.String)
	t.Observations = observations.String
	t.ReversedAt = parseTimePtr(reversedAt)
	t.ReversedBy = reversedBy.String
	t.ReversalReason = reversalReason.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// TANK
// =============================================================================

func (s queries) GetTank(ctx context.Context, id ledger.TankID) (*ledger.Tank, error) {
	return queryOne(ctx, s.q, scanTank, `SELECT id, name, current_level, capacity, minimum_threshold, updated_at
		FROM co2_tank WHERE id = ?`, id)
}

func (s queries) SaveTank(ctx context.Context, t ledger.Tank) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO co2_tank (id, name, current_level, capacity, minimum_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			current_level = excluded.current_level,
			capacity = excluded.capacity,
			minimum_threshold = excluded.minimum_threshold,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.CurrentLevel.String(), t.Capacity.String(), t.MinimumThreshold.String(), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save tank: %w", err)
	}
	return nil
}

func (s queries) SwapTankLevel(ctx context.Context, id ledger.TankID, expected, next decimal.Decimal, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE co2_tank SET current_level = ?, updated_at = ?
		WHERE id = ? AND current_level = ?`,
		next.String(), formatTime(at), id, expected.String())
	if err != nil {
		return fmt.Errorf("failed to update tank level: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func scanTank(row scanner) (ledger.Tank, error) {
	var (
		t                          ledger.Tank
		level, capacity, threshold string
		updatedAt                  string
		err                        error
	)
	if err = row.Scan(&t.ID, &t.Name, &level, &capacity, &threshold, &updatedAt); err != nil {
		return t, err
	}
	if t.CurrentLevel, err = decimal.NewFromString(level); err != nil {
		return t, err
	}
	if t.Capacity, err = decimal.NewFromString(capacity); err != nil {
		return t, err
	}
	if t.MinimumThreshold, err = decimal.NewFromString(threshold); err != nil {
		return t, err
	}
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

// =============================================================================
// TANK MOVEMENTS
// =============================================================================

const movementColumns = `id, tank_id, movement_type, quantity, shrinkage_percentage, shrinkage_amount,
	supplier, operator_name, reference_filling_id, observations,
	is_reversed, reversed_at, reversed_by, reversal_reason, created_at`

func (s queries) InsertTankMovement(ctx context.Context, m ledger.TankMovement) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO tank_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TankID, m.Type, m.Quantity.String(), m.ShrinkagePercentage.String(), m.ShrinkageAmount.String(),
		nullString(m.Supplier), nullString(m.OperatorName), nullString(string(m.ReferenceFillingID)),
		nullString(m.Observations),
		m.IsReversed, formatTimePtr(m.ReversedAt), nullString(m.ReversedBy), nullString(m.ReversalReason),
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tank movement: %w", err)
	}
	return nil
}

func (s queries) UpdateTankMovement(ctx context.Context, m ledger.TankMovement) error {
	return execOne(ctx, s.q, "tank movement", `UPDATE tank_movements SET
		quantity = ?, shrinkage_amount = ?, observations = ?,
		is_reversed = ?, reversed_at = ?, reversed_by = ?, reversal_reason = ?
		WHERE id = ?`,
		m.Quantity.String(), m.ShrinkageAmount.String(), nullString(m.Observations),
		m.IsReversed, formatTimePtr(m.ReversedAt), nullString(m.ReversedBy), nullString(m.ReversalReason),
		m.ID,
	)
}

func (s queries) GetTankMovement(ctx context.Context, id ledger.TankMovementID) (*ledger.TankMovement, error) {
	return queryOne(ctx, s.q, scanMovement, `SELECT `+movementColumns+` FROM tank_movements WHERE id = ?`, id)
}

func (s queries) ListTankMovements(ctx context.Context, f ledger.TankMovementFilter) ([]ledger.TankMovement, error) {
	var w where
	if f.TankID != "" {
		w.add("tank_id = ?", f.TankID)
	}
	if f.Type != nil {
		w.add("movement_type = ?", *f.Type)
	}
	if f.ReferenceFillingID != "" {
		w.add("reference_filling_id = ?", f.ReferenceFillingID)
	}
	if !f.IncludeReversed {
		w.add("is_reversed = 0")
	}
	query := `SELECT ` + movementColumns + ` FROM tank_movements` + w.String() + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return queryAll(ctx, s.q, scanMovement, query, w.args...)
}

func scanMovement(row scanner) (ledger.TankMovement, error) {
	var (
		m                                      ledger.TankMovement
		qty, pct, amount                       string
		supplier, operator, filling, observ    sql.NullString
		reversedAt, reversedBy, reversalReason sql.NullString
		createdAt                              string
	)
	err := row.Scan(
		&m.ID, &m.TankID, &m.Type, &qty, &pct, &amount,
		&supplier, &operator, &filling, &observ,
		&m.IsReversed, &reversedAt, &reversedBy, &reversalReason, &createdAt,
	)
	if err != nil {
		return m, err
	}
	if m.Quantity, err = decimal.NewFromString(qty); err != nil {
		return m, err
	}
	if m.ShrinkagePercentage, err = decimal.NewFromString(pct); err != nil {
		return m, err
	}
	if m.ShrinkageAmount, err = decimal.NewFromString(amount); err != nil {
		return m, err
	}
	m.Supplier = supplier.String
	m.OperatorName = operator.String
	m.ReferenceFillingID = ledger.FillingID(filling.String)
	m.Observations = observ.String
	m.ReversedAt = parseTimePtr(reversedAt)
	m.ReversedBy = reversedBy.String
	m.ReversalReason = reversalReason.String
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// =============================================================================
// INVENTORY ADJUSTMENTS
// =============================================================================

const adjustmentColumns = `id, batch_id, location, cylinder_id, adjustment_type,
	previous_status, new_status, previous_location, new_location,
	reason, performed_by, adjustment_date`

func (s queries) InsertAdjustments(ctx context.Context, adjustments []ledger.InventoryAdjustment) error {
	for _, a := range adjustments {
		_, err := s.q.ExecContext(ctx, `INSERT INTO inventory_adjustments (`+adjustmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.BatchID, a.Location, a.CylinderID, a.Type,
			a.PreviousStatus, a.NewStatus, a.PreviousLocation, a.NewLocation,
			a.Reason, a.PerformedBy, formatTime(a.AdjustmentDate),
		)
		if err != nil {
			return fmt.Errorf("failed to insert adjustment: %w", err)
		}
	}
	return nil
}

func (s queries) ListAdjustments(ctx context.Context, f ledger.AdjustmentFilter) ([]ledger.InventoryAdjustment, error) {
	var w where
	if f.BatchID != "" {
		w.add("batch_id = ?", f.BatchID)
	}
	if f.CylinderID != "" {
		w.add("cylinder_id = ?", f.CylinderID)
	}
	if f.Location != nil {
		w.add("location = ?", *f.Location)
	}
	return queryAll(ctx, s.q, scanAdjustment,
		`SELECT `+adjustmentColumns+` FROM inventory_adjustments`+w.String()+` ORDER BY adjustment_date DESC, rowid DESC`,
		w.args...)
}

func scanAdjustment(row scanner) (ledger.InventoryAdjustment, error) {
	var (
		a    ledger.InventoryAdjustment
		date string
	)
	err := row.Scan(
		&a.ID, &a.BatchID, &a.Location, &a.CylinderID, &a.Type,
		&a.PreviousStatus, &a.NewStatus, &a.PreviousLocation, &a.NewLocation,
		&a.Reason, &a.PerformedBy, &date,
	)
	a.AdjustmentDate = parseTime(date)
	return a, err
}

// =============================================================================
// APPROVAL LOG (append-only)
// =============================================================================

const auditColumns = `id, record_kind, record_id, action, previous_data, new_data,
	performed_by, comments, created_at`

func (s queries) AppendApprovalLog(ctx context.Context, e ledger.ApprovalLog) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO approval_logs (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.RecordID, e.Action, nullBytes(e.PreviousData), nullBytes(e.NewData),
		nullString(e.PerformedBy), nullString(e.Comments), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append approval log: %w", err)
	}
	return nil
}

func (s queries) ListApprovalLogs(ctx context.Context, f ledger.AuditFilter) ([]ledger.ApprovalLog, error) {
	var w where
	if f.Kind != nil {
		w.add("record_kind = ?", *f.Kind)
	}
	if f.RecordID != "" {
		w.add("record_id = ?", f.RecordID)
	}
	if f.Action != nil {
		w.add("action = ?", *f.Action)
	}
	query := `SELECT ` + auditColumns + ` FROM approval_logs` + w.String() + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return queryAll(ctx, s.q, scanAudit, query, w.args...)
}

func scanAudit(row scanner) (ledger.ApprovalLog, error) {
	var (
		e                   ledger.ApprovalLog
		prev, next          sql.NullString
		performedBy, commts sql.NullString
		createdAt           string
	)
	err := row.Scan(&e.ID, &e.Kind, &e.RecordID, &e.Action, &prev, &next, &performedBy, &commts, &createdAt)
	if err != nil {
		return e, err
	}
	if prev.Valid {
		e.PreviousData = []byte(prev.String)
	}
	if next.Valid {
		e.NewData = []byte(next.String)
	}
	e.PerformedBy = performedBy.String
	e.Comments = commts.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.TxStore = (*Store)(nil)
