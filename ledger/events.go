package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

type EventType string

const (
	EventCylinderUpdated   EventType = "cylinder_updated"
	EventCylinderCreated   EventType = "cylinder_created"
	EventFillingCreated    EventType = "filling_created"
	EventFillingUpdated    EventType = "filling_updated"
	EventTransferCreated   EventType = "transfer_created"
	EventTankLevelChanged  EventType = "tank_level_changed"
	EventRecordReversed    EventType = "record_reversed"
	EventAdjustmentCreated EventType = "adjustment_created"
)

// Event describes a committed change. Events are emitted after commit only;
// a rolled-back batch emits nothing.
type Event struct {
	Type     EventType
	Kind     RecordKind
	RecordID string
	At       time.Time

	// Level is set on EventTankLevelChanged.
	Level *decimal.Decimal
}

// Observer receives committed change events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type observers []Observer

func (o observers) notify(events []Event) {
	for _, e := range events {
		for _, obs := range o {
			obs.Observe(e)
		}
	}
}
