package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
	"github.com/warp/co2-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// recorder collects committed events.
type recorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recorder) Observe(e ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t ledger.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	ledger *ledger.Ledger
	store  *store.TxMemory
	events *recorder
}

func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	mem := store.NewTxMemory()
	rec := &recorder{}
	var seq atomic.Int64
	opts = append([]ledger.Option{
		ledger.WithClock(func() time.Time { return testNow }),
		ledger.WithIDGenerator(func() string {
			return fmt.Sprintf("id-%04d", seq.Add(1))
		}),
		ledger.WithObserver(rec),
	}, opts...)
	return &fixture{ledger: ledger.New(mem, opts...), store: mem, events: rec}
}

func kg(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// withTank seeds the tank with an opening level.
func (f *fixture) withTank(t *testing.T, level, capacity string) {
	t.Helper()
	_, err := f.ledger.Tank.EnsureTank(context.Background(), ledger.TankConfig{
		Name:             "Main CO2 tank",
		Capacity:         kg(capacity),
		MinimumThreshold: kg("20"),
		InitialLevel:     kg(level),
	})
	require.NoError(t, err)
}

// cylinders registers n cylinders at location with status.
func (f *fixture) cylinders(t *testing.T, n int, status ledger.Status, location ledger.Location) []ledger.CylinderID {
	t.Helper()
	ids := make([]ledger.CylinderID, 0, n)
	for i := 0; i < n; i++ {
		c, err := f.ledger.Registry.Register(context.Background(), ledger.RegisterInput{
			SerialNumber:        fmt.Sprintf("SN-%s-%d", location, len(f.mustList(t))+1),
			Capacity:            ledger.Capacity9kg,
			ManufacturingDate:   testNow.AddDate(-8, 0, 0),
			LastHydrostaticTest: testNow.AddDate(-1, 0, 0),
			Status:              status,
			Location:            location,
		})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return ids
}

func (f *fixture) mustList(t *testing.T) []ledger.Cylinder {
	t.Helper()
	list, err := f.ledger.Registry.ListActive(context.Background(), ledger.CylinderFilter{})
	require.NoError(t, err)
	return list
}

func (f *fixture) cylinder(t *testing.T, id ledger.CylinderID) ledger.Cylinder {
	t.Helper()
	c, err := f.ledger.Registry.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) level(t *testing.T) decimal.Decimal {
	t.Helper()
	l, err := f.ledger.Tank.CurrentLevel(context.Background())
	require.NoError(t, err)
	return l.Level
}

func requireKg(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, kg(want).Equal(got), "expected %s kg, got %s kg", want, got)
}
