package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

// =============================================================================
// TANK LEDGER TESTS
// =============================================================================

func TestTankEntrance_AddsQuantityPlusShrinkage(t *testing.T) {
	// GIVEN: Tank at 500 kg of 1000 kg
	f := newFixture(t)
	f.withTank(t, "500", "1000")

	// WHEN: 100 kg are delivered
	m, err := f.ledger.Tank.RecordEntrance(context.Background(), ledger.EntranceInput{
		Quantity:     kg("100"),
		OperatorName: "ana",
		Supplier:     "Linde",
	})

	// THEN: 3% shrinkage is added to the level
	require.NoError(t, err)
	requireKg(t, "3", m.ShrinkageAmount)
	requireKg(t, "3", m.ShrinkagePercentage)
	requireKg(t, "603", f.level(t))
	assert.Equal(t, ledger.MovementEntrance, m.Type)
	assert.Equal(t, "Linde", m.Supplier)
}

func TestTankExit_InsufficientInventory_LevelUnchanged(t *testing.T) {
	// GIVEN: Tank at 50 kg
	f := newFixture(t)
	f.withTank(t, "50", "1000")

	// WHEN: 50 kg are withdrawn (51.5 kg with shrinkage)
	_, err := f.ledger.Tank.RecordExit(context.Background(), ledger.ExitInput{
		Quantity:     kg("50"),
		OperatorName: "ana",
	})

	// THEN: Rejected, nothing written
	require.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	var insufficient *ledger.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	requireKg(t, "50", insufficient.Available)
	requireKg(t, "51.5", insufficient.Requested)
	requireKg(t, "50", f.level(t))

	movements, err := f.ledger.Tank.Movements(context.Background(), ledger.TankMovementFilter{})
	require.NoError(t, err)
	assert.Len(t, movements, 1, "only the opening balance")
}

func TestTankExit_WithinLevel(t *testing.T) {
	f := newFixture(t)
	f.withTank(t, "500", "1000")

	_, err := f.ledger.Tank.RecordExit(context.Background(), ledger.ExitInput{Quantity: kg("100")})

	require.NoError(t, err)
	requireKg(t, "397", f.level(t))
}

func TestTankEntrance_OverCapacityRejected(t *testing.T) {
	f := newFixture(t)
	f.withTank(t, "950", "1000")

	_, err := f.ledger.Tank.RecordEntrance(context.Background(), ledger.EntranceInput{Quantity: kg("50")})

	require.ErrorIs(t, err, ledger.ErrOverCapacity)
	requireKg(t, "950", f.level(t))
}

func TestTankMovement_NonPositiveQuantityRejected(t *testing.T) {
	f := newFixture(t)
	f.withTank(t, "500", "1000")

	_, err := f.ledger.Tank.RecordEntrance(context.Background(), ledger.EntranceInput{Quantity: kg("0")})
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.ledger.Tank.RecordExit(context.Background(), ledger.ExitInput{Quantity: kg("-5")})
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestTankRecompute_MatchesMaterializedLevel(t *testing.T) {
	// GIVEN: A mix of entrances and exits
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "200", "1000")

	_, err := f.ledger.Tank.RecordEntrance(ctx, ledger.EntranceInput{Quantity: kg("100")})
	require.NoError(t, err)
	_, err = f.ledger.Tank.RecordExit(ctx, ledger.ExitInput{Quantity: kg("40")})
	require.NoError(t, err)

	// WHEN: The level is recomputed from movements
	rec, err := f.ledger.Tank.Recompute(ctx)

	// THEN: No drift, 200 + 103 - 41.2
	require.NoError(t, err)
	requireKg(t, "261.8", rec.Computed)
	requireKg(t, "261.8", rec.Materialized)
	assert.True(t, rec.Drift.IsZero())
	assert.Equal(t, 3, rec.Movements)
}

func TestTankLevel_Tiers(t *testing.T) {
	tests := []struct {
		level string
		want  ledger.LevelTier
	}{
		{"500", ledger.TierNormal},
		{"150", ledger.TierLow},
		{"40", ledger.TierCritical},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			f := newFixture(t)
			f.withTank(t, tt.level, "1000")

			l, err := f.ledger.Tank.CurrentLevel(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.want, l.Tier)
		})
	}
}

func TestEnsureTank_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "1000")

	tank, err := f.ledger.Tank.EnsureTank(ctx, ledger.TankConfig{Capacity: kg("2000"), InitialLevel: kg("10")})

	require.NoError(t, err)
	requireKg(t, "1000", tank.Capacity)
	requireKg(t, "500", f.level(t))
}

func TestTankLevel_MissingTankIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Tank.CurrentLevel(context.Background())

	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestTankLevel_ConcurrentMovementsSerialize(t *testing.T) {
	// GIVEN: Tank at 500 kg
	ctx := context.Background()
	f := newFixture(t)
	f.withTank(t, "500", "100000")

	// WHEN: 20 entrances of 10 kg race each other
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Tank.RecordEntrance(ctx, ledger.EntranceInput{Quantity: kg("10")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: Every one is applied exactly once: 500 + 20 × 10.3
	requireKg(t, "706", f.level(t))
	rec, err := f.ledger.Tank.Recompute(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Drift.IsZero())
}

func TestTankLevel_EmitsEventAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.withTank(t, "500", "1000")
	before := f.events.count(ledger.EventTankLevelChanged)

	_, err := f.ledger.Tank.RecordExit(context.Background(), ledger.ExitInput{Quantity: kg("1000")})
	require.Error(t, err)
	assert.Equal(t, before, f.events.count(ledger.EventTankLevelChanged), "rolled back, nothing emitted")

	_, err = f.ledger.Tank.RecordExit(context.Background(), ledger.ExitInput{Quantity: kg("10")})
	require.NoError(t, err)
	assert.Equal(t, before+1, f.events.count(ledger.EventTankLevelChanged))
}
