/*
tank.go - Tank Ledger

PURPOSE:
  Maintains the bulk CO2 tank level through signed movements with
  shrinkage applied.

SHRINKAGE:
  Both directions add shrinkage to the magnitude of the movement:
    entrance: level += quantity + quantity × 3%
    exit:     level -= quantity + quantity × 3%
  Entrance shrinkage models supplier overfill compensation and is added to
  the tank, exit shrinkage is extra material consumed from it.

INVARIANT:
  0 <= CurrentLevel <= Capacity after every operation. An operation that
  would break it is rejected, never clamped.

CONCURRENCY:
  The tank is the one globally shared row. Every level change
    1. holds the Locker for the tank id,
    2. reads the level inside the store transaction,
    3. writes it back with SwapTankLevel (compare-and-swap).
  A CAS miss rolls the transaction back and the whole operation is retried
  a bounded number of times.

EXAMPLE:
  Level 500 kg, capacity 1000 kg.
  RecordEntrance(100) -> shrinkage 3 kg -> level 603 kg.
*/
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// maxLevelAttempts bounds the optimistic retries on a tank CAS conflict.
const maxLevelAttempts = 3

type TankLedger struct {
	core *core
}

type EntranceInput struct {
	Quantity     decimal.Decimal
	OperatorName string
	Supplier     string
	Observations string
}

type ExitInput struct {
	Quantity     decimal.Decimal
	OperatorName string
	Observations string
}

// TankConfig seeds the tank when it does not exist yet.
type TankConfig struct {
	Name             string
	Capacity         decimal.Decimal
	MinimumThreshold decimal.Decimal
	InitialLevel     decimal.Decimal
}

// LevelTier is the dashboard traffic light for the tank level.
type LevelTier string

const (
	TierNormal   LevelTier = "normal"
	TierLow      LevelTier = "low"
	TierCritical LevelTier = "critical"
)

// criticalPercentage is the fixed critical tier, independent of the tank threshold.
var criticalPercentage = decimal.NewFromInt(5)

type Level struct {
	TankID           TankID
	Level            decimal.Decimal
	Capacity         decimal.Decimal
	Percentage       decimal.Decimal
	MinimumThreshold decimal.Decimal
	Tier             LevelTier
}

// Reconciliation compares the materialized level with the sum of movements.
type Reconciliation struct {
	TankID       TankID
	Materialized decimal.Decimal
	Computed     decimal.Decimal
	Drift        decimal.Decimal
	Movements    int
}

// =============================================================================
// QUERIES
// =============================================================================

// CurrentLevel returns the tank level, its percentage of capacity and its tier.
func (t *TankLedger) CurrentLevel(ctx context.Context) (Level, error) {
	tank, err := t.get(ctx)
	if err != nil {
		return Level{}, err
	}
	return levelOf(tank), nil
}

func levelOf(tank Tank) Level {
	l := Level{
		TankID:           tank.ID,
		Level:            tank.CurrentLevel,
		Capacity:         tank.Capacity,
		MinimumThreshold: tank.MinimumThreshold,
	}
	if tank.Capacity.IsPositive() {
		l.Percentage = tank.CurrentLevel.Div(tank.Capacity).Mul(hundred)
	}
	switch {
	case l.Percentage.LessThanOrEqual(criticalPercentage):
		l.Tier = TierCritical
	case l.Percentage.LessThanOrEqual(tank.MinimumThreshold):
		l.Tier = TierLow
	default:
		l.Tier = TierNormal
	}
	return l
}

// Movements lists tank movements for the ledger's tank, newest first.
func (t *TankLedger) Movements(ctx context.Context, filter TankMovementFilter) ([]TankMovement, error) {
	filter.TankID = t.core.tankID
	return readRetry(ctx, "list tank movements", func(ctx context.Context) ([]TankMovement, error) {
		return t.core.store.ListTankMovements(ctx, filter)
	})
}

// Recompute sums every non-reversed movement and compares it with the
// materialized level. A non-zero drift means the level was written outside
// the ledger.
func (t *TankLedger) Recompute(ctx context.Context) (Reconciliation, error) {
	tank, err := t.get(ctx)
	if err != nil {
		return Reconciliation{}, err
	}
	movements, err := t.Movements(ctx, TankMovementFilter{})
	if err != nil {
		return Reconciliation{}, err
	}
	computed := decimal.Zero
	for _, m := range movements {
		computed = computed.Add(m.Delta())
	}
	return Reconciliation{
		TankID:       tank.ID,
		Materialized: tank.CurrentLevel,
		Computed:     computed,
		Drift:        tank.CurrentLevel.Sub(computed),
		Movements:    len(movements),
	}, nil
}

func (t *TankLedger) get(ctx context.Context) (Tank, error) {
	tank, err := readRetry(ctx, "get tank", func(ctx context.Context) (*Tank, error) {
		return t.core.store.GetTank(ctx, t.core.tankID)
	})
	if err != nil {
		return Tank{}, err
	}
	if tank == nil {
		return Tank{}, notFound(KindTankMovement, "tank "+string(t.core.tankID))
	}
	return *tank, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// EnsureTank creates the tank from cfg if it does not exist. An initial
// level is booked as an opening entrance without shrinkage so that
// Recompute stays consistent.
func (t *TankLedger) EnsureTank(ctx context.Context, cfg TankConfig) (Tank, error) {
	if !cfg.Capacity.IsPositive() {
		return Tank{}, invalid("capacity", "must be greater than zero")
	}
	if cfg.InitialLevel.IsNegative() || cfg.InitialLevel.GreaterThan(cfg.Capacity) {
		return Tank{}, invalid("initial_level", "must be between zero and capacity")
	}

	var tank Tank
	err := t.locked(ctx, "ensure tank", func(tx Store, emit emitFunc) error {
		existing, err := tx.GetTank(ctx, t.core.tankID)
		if err != nil {
			return err
		}
		if existing != nil {
			tank = *existing
			return nil
		}
		tank = Tank{
			ID:               t.core.tankID,
			Name:             cfg.Name,
			CurrentLevel:     decimal.Zero,
			Capacity:         cfg.Capacity,
			MinimumThreshold: cfg.MinimumThreshold,
			UpdatedAt:        t.core.now(),
		}
		if err := tx.SaveTank(ctx, tank); err != nil {
			return err
		}
		if !cfg.InitialLevel.IsPositive() {
			return nil
		}
		opening := TankMovement{
			ID:                  TankMovementID(t.core.newID()),
			TankID:              tank.ID,
			Type:                MovementEntrance,
			Quantity:            cfg.InitialLevel,
			ShrinkagePercentage: decimal.Zero,
			ShrinkageAmount:     decimal.Zero,
			Supplier:            "opening balance",
			CreatedAt:           t.core.now(),
		}
		if err := tx.InsertTankMovement(ctx, opening); err != nil {
			return err
		}
		tank, err = t.adjustLevel(ctx, tx, opening.Delta(), emit)
		return err
	})
	return tank, err
}

// RecordEntrance books a delivery into the tank.
func (t *TankLedger) RecordEntrance(ctx context.Context, in EntranceInput) (TankMovement, error) {
	if !in.Quantity.IsPositive() {
		return TankMovement{}, invalid("quantity", "must be greater than zero")
	}
	m := t.newMovement(MovementEntrance, in.Quantity, in.OperatorName, in.Observations)
	m.Supplier = in.Supplier
	if err := t.book(ctx, "record tank entrance", m); err != nil {
		return TankMovement{}, err
	}
	return m, nil
}

// RecordExit books a withdrawal from the tank.
func (t *TankLedger) RecordExit(ctx context.Context, in ExitInput) (TankMovement, error) {
	if !in.Quantity.IsPositive() {
		return TankMovement{}, invalid("quantity", "must be greater than zero")
	}
	m := t.newMovement(MovementExit, in.Quantity, in.OperatorName, in.Observations)
	if err := t.book(ctx, "record tank exit", m); err != nil {
		return TankMovement{}, err
	}
	return m, nil
}

func (t *TankLedger) newMovement(typ MovementType, qty decimal.Decimal, operator, observations string) TankMovement {
	return TankMovement{
		ID:                  TankMovementID(t.core.newID()),
		TankID:              t.core.tankID,
		Type:                typ,
		Quantity:            qty,
		ShrinkagePercentage: t.core.rates.Tank,
		ShrinkageAmount:     Shrinkage(qty, t.core.rates.Tank),
		OperatorName:        operator,
		Observations:        observations,
		CreatedAt:           t.core.now(),
	}
}

func (t *TankLedger) book(ctx context.Context, op string, m TankMovement) error {
	return t.locked(ctx, op, func(tx Store, emit emitFunc) error {
		if _, err := t.adjustLevel(ctx, tx, m.Delta(), emit); err != nil {
			return err
		}
		return tx.InsertTankMovement(ctx, m)
	})
}

// =============================================================================
// LEVEL CHANGES
// =============================================================================

// locked runs fn in a transaction while holding the tank lock, retrying on
// a compare-and-swap conflict.
func (t *TankLedger) locked(ctx context.Context, op string, fn func(tx Store, emit emitFunc) error) error {
	unlock, err := t.core.locker.Lock(ctx, "tank:"+string(t.core.tankID))
	if err != nil {
		t.core.logFailure(op, err)
		return err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		err = t.core.run(ctx, op, fn)
		if !errors.Is(err, ErrConcurrentModification) || attempt == maxLevelAttempts {
			return err
		}
	}
}

// adjustLevel applies delta to the tank inside tx, enforcing
// 0 <= level <= capacity.
func (t *TankLedger) adjustLevel(ctx context.Context, tx Store, delta decimal.Decimal, emit emitFunc) (Tank, error) {
	tank, err := tx.GetTank(ctx, t.core.tankID)
	if err != nil {
		return Tank{}, err
	}
	if tank == nil {
		return Tank{}, notFound(KindTankMovement, "tank "+string(t.core.tankID))
	}
	next := tank.CurrentLevel.Add(delta)
	if next.IsNegative() {
		return Tank{}, &InsufficientInventoryError{
			TankID:    tank.ID,
			Available: tank.CurrentLevel,
			Requested: delta.Neg(),
		}
	}
	if next.GreaterThan(tank.Capacity) {
		return Tank{}, &OverCapacityError{
			TankID:    tank.ID,
			Capacity:  tank.Capacity,
			Resulting: next,
		}
	}
	now := t.core.now()
	if err := tx.SwapTankLevel(ctx, tank.ID, tank.CurrentLevel, next, now); err != nil {
		return Tank{}, err
	}
	tank.CurrentLevel = next
	tank.UpdatedAt = now
	emit(Event{Type: EventTankLevelChanged, Kind: KindTankMovement, RecordID: string(tank.ID), Level: &next})
	return *tank, nil
}
