/*
ledger.go - Wiring for the inventory ledger components

PURPOSE:
  The Ledger bundles the four cooperating components around one store:

    Registry    - current (status, location, ownership) of every cylinder
    Movements   - batch fillings and transfers
    Tank        - bulk tank level with shrinkage
    Reversals   - undo of fillings, transfers and tank movements
    Adjustments - physical count corrections

  Dependency order (leaves first): Registry -> Tank -> Movements -> Reversals.

TRANSACTIONS:
  Every mutating call goes through core.run, which opens one store
  transaction, collects change events while it runs, and emits them only
  after commit. A failed batch rolls back and emits nothing.

EXAMPLE:
  l := ledger.New(memory.NewTxMemory(), ledger.WithLogger(log))
  res, err := l.Movements.FillBatch(ctx, ledger.FillBatchInput{...})
  if errors.Is(err, ledger.ErrApprovalRequired) {
      // nothing was written
  }
*/
package ledger

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Ledger struct {
	Registry    *Registry
	Movements   *Engine
	Tank        *TankLedger
	Reversals   *Reverser
	Adjustments *Adjuster

	core *core
}

// core is the state shared by every component.
type core struct {
	store     TxStore
	now       func() time.Time
	newID     func() string
	observers observers
	log       *logrus.Logger
	locker    Locker
	rates     Rates
	tankID    TankID
	validate  *validator.Validate

	// debitTank books a tank exit for every filling.
	debitTank bool
}

type Option func(*core)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

// WithIDGenerator overrides the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(c *core) { c.newID = newID }
}

func WithObserver(o Observer) Option {
	return func(c *core) { c.observers = append(c.observers, o) }
}

func WithLogger(log *logrus.Logger) Option {
	return func(c *core) { c.log = log }
}

// WithLocker sets the Locker used to serialize tank level changes.
func WithLocker(l Locker) Option {
	return func(c *core) { c.locker = l }
}

func WithRates(r Rates) Option {
	return func(c *core) { c.rates = r }
}

// WithTankID selects the tank the ledger operates on.
func WithTankID(id TankID) Option {
	return func(c *core) { c.tankID = id }
}

// WithFillingTankDebit toggles the tank exit booked for every filling.
// On by default.
func WithFillingTankDebit(on bool) Option {
	return func(c *core) { c.debitTank = on }
}

// New creates a ledger over store.
func New(store TxStore, opts ...Option) *Ledger {
	c := &core{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		locker:    NewLocalLocker(),
		rates:     DefaultRates(),
		tankID:    DefaultTankID,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		debitTank: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.New()
		c.log.SetOutput(io.Discard)
	}

	l := &Ledger{core: c}
	l.Registry = &Registry{core: c}
	l.Tank = &TankLedger{core: c}
	l.Movements = &Engine{core: c, tank: l.Tank}
	l.Reversals = &Reverser{core: c, tank: l.Tank}
	l.Adjustments = &Adjuster{core: c}
	return l
}

// ApprovalLogs returns audit rows, newest first.
func (l *Ledger) ApprovalLogs(ctx context.Context, filter AuditFilter) ([]ApprovalLog, error) {
	return readRetry(ctx, "list approval logs", func(ctx context.Context) ([]ApprovalLog, error) {
		return l.core.store.ListApprovalLogs(ctx, filter)
	})
}

// =============================================================================
// TRANSACTION RUNNER
// =============================================================================

type emitFunc func(Event)

// run executes fn in one store transaction and notifies observers after commit.
func (c *core) run(ctx context.Context, op string, fn func(tx Store, emit emitFunc) error) error {
	var events []Event
	err := c.store.WithTx(ctx, func(tx Store) error {
		events = events[:0]
		return fn(tx, func(e Event) {
			if e.At.IsZero() {
				e.At = c.now()
			}
			events = append(events, e)
		})
	})
	if err != nil {
		err = persistence(op, err)
		c.logFailure(op, err)
		return err
	}
	c.observers.notify(events)
	return nil
}

func (c *core) logFailure(op string, err error) {
	entry := c.log.WithFields(logrus.Fields{
		"module":   "ledger",
		"funcName": op,
	})
	if IsClientError(err) || IsConflict(err) || IsNotFound(err) {
		entry.Warn(err.Error())
		return
	}
	entry.Error(err.Error())
}

// =============================================================================
// AUDIT
// =============================================================================

// audit appends one approval log row. before/after are marshalled to JSON;
// nil means no snapshot.
func (c *core) audit(ctx context.Context, tx Store, ref RecordRef, action AuditAction, before, after any, actor, comment string) error {
	prev, err := snapshot(before)
	if err != nil {
		return err
	}
	next, err := snapshot(after)
	if err != nil {
		return err
	}
	return tx.AppendApprovalLog(ctx, ApprovalLog{
		ID:           c.newID(),
		Kind:         ref.Kind,
		RecordID:     ref.ID,
		Action:       action,
		PreviousData: prev,
		NewData:      next,
		PerformedBy:  actor,
		Comments:     comment,
		CreatedAt:    c.now(),
	})
}

func snapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
