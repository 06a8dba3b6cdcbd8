package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

func TestLocalLocker_ExclusivePerKey(t *testing.T) {
	l := ledger.NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "tank:main")
	require.NoError(t, err)

	// A different key is independent.
	other, err := l.Lock(ctx, "tank:spare")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "tank:main")
	require.ErrorIs(t, err, ledger.ErrLockNotObtained)

	unlock()
	again, err := l.Lock(ctx, "tank:main")
	require.NoError(t, err)
	again()
}

func TestTankLedger_LockUnavailable(t *testing.T) {
	// GIVEN: Another holder owns the tank lock
	locker := ledger.NewLocalLocker()
	f := newFixture(t, ledger.WithLocker(locker))
	f.withTank(t, "500", "1000")
	unlock, err := locker.Lock(context.Background(), "tank:"+string(ledger.DefaultTankID))
	require.NoError(t, err)
	defer unlock()

	// WHEN: An entrance is recorded with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.ledger.Tank.RecordEntrance(ctx, ledger.EntranceInput{Quantity: kg("10")})

	// THEN: Nothing is booked
	require.ErrorIs(t, err, ledger.ErrLockNotObtained)
	requireKg(t, "500", f.level(t))
}
