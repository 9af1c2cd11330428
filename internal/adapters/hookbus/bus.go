// Package hookbus implements the Hook Bus of spec.md §4.5: dispatches
// typed lifecycle events to registered handlers, either synchronously
// (awaited inline) or asynchronously (published to a broker and
// consumed out-of-process).
//
// Grounded on common/mrabbitmq.RabbitMQConnection's singleton-channel
// hub, adapted from the deprecated streadway/amqp to the maintained
// rabbitmq/amqp091-go client the rest of the pack's newer consumers use.
// The sync path has no teacher equivalent (the teacher's event flow is
// always broker-mediated); it is built directly from spec.md §4.5,
// in the same small-interface style as the rest of this package.
package hookbus

import (
	"context"
	"sync"

	"github.com/civicforge/recordengine/pkg/mlog"
)

// Event is one of the named lifecycle events spec.md §4.5 enumerates
// (civic:initialized, record:created, record:updated,
// record:status-changed, record:deleted, record:committed,
// workflow:denied, auth:login, ...).
type Event string

const (
	EventCivicInitialized   Event = "civic:initialized"
	EventRecordCreated      Event = "record:created"
	EventRecordUpdated      Event = "record:updated"
	EventRecordStatusChange Event = "record:status-changed"
	EventRecordDeleted      Event = "record:deleted"
	EventRecordCommitted    Event = "record:committed"
	EventWorkflowDenied     Event = "workflow:denied"
	EventAuthLogin          Event = "auth:login"
	EventIndexGenerated     Event = "index:generated"
	EventSyncConflict       Event = "sync.conflict_resolved"
)

// Payload is the event body delivered to handlers; free-form per event,
// like the teacher's message-body-is-whatever-the-producer-marshalled
// convention.
type Payload map[string]any

// Handler processes one dispatched event. Handlers run after the event
// has already been durably recorded in the activity log (spec.md §4.5:
// "the activity log entry is written before hook dispatch", so a
// crashed or hung handler never hides that the event occurred).
type Handler func(ctx context.Context, event Event, payload Payload) error

// ActivityRecorder is the narrow activity-log dependency the bus needs:
// record the event before any handler runs. Satisfied by
// internal/adapters/activitylog.Log.
type ActivityRecorder interface {
	Record(ctx context.Context, event string, actor string, entityType, entityID string, details map[string]any) error
}

// Mode selects how a registered handler is invoked.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Bus is the Hook Bus: a small in-process registry plus an optional
// async transport for handlers registered in ModeAsync.
type Bus struct {
	logger    mlog.Logger
	activity  ActivityRecorder
	transport AsyncTransport

	mu       sync.RWMutex
	handlers map[Event][]registration
	dryRun   map[Event]bool
}

type registration struct {
	mode Mode
	fn   Handler
}

// AsyncTransport publishes an event for out-of-process consumption. Nil
// is valid: registering a ModeAsync handler without a transport
// configured is a configuration error surfaced at dispatch time, not at
// startup, mirroring the teacher's lazy-connect pattern.
type AsyncTransport interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

func New(activity ActivityRecorder, transport AsyncTransport, logger mlog.Logger) *Bus {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &Bus{
		logger:    logger,
		activity:  activity,
		transport: transport,
		handlers:  make(map[Event][]registration),
		dryRun:    make(map[Event]bool),
	}
}

// On registers fn to run for event in the given mode.
func (b *Bus) On(event Event, mode Mode, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[event] = append(b.handlers[event], registration{mode: mode, fn: fn})
}

// SetDryRun suppresses dispatch (but not activity logging) for event,
// per spec.md §4.5's per-event-name dry-run toggle — used to validate a
// workflow without triggering side effects like external hook scripts.
func (b *Bus) SetDryRun(event Event, dryRun bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dryRun[event] = dryRun
}

// Dispatch records the event to the activity log, then invokes every
// registered handler: sync handlers inline and awaited, async handlers
// published to the transport. A sync handler's error is returned to the
// caller; an async handler's publish error is logged and returned
// (spec.md's own "hooks may fail; the record change persisted the moment
// the activity log entry was written" contract — Dispatch's caller
// already committed before calling Dispatch).
func (b *Bus) Dispatch(ctx context.Context, event Event, actor, entityType, entityID string, payload Payload) error {
	if b.activity != nil {
		if err := b.activity.Record(ctx, string(event), actor, entityType, entityID, payload); err != nil {
			return err
		}
	}

	b.mu.RLock()
	dryRun := b.dryRun[event]
	regs := append([]registration(nil), b.handlers[event]...)
	b.mu.RUnlock()

	if dryRun {
		b.logger.Debugf("hookbus: dry-run suppressed dispatch of %s", event)
		return nil
	}

	for _, reg := range regs {
		switch reg.mode {
		case ModeSync:
			if err := reg.fn(ctx, event, payload); err != nil {
				b.logger.Errorf("hookbus: sync handler for %s failed: %v", event, err)
				return err
			}
		case ModeAsync:
			if b.transport == nil {
				b.logger.Errorf("hookbus: async handler registered for %s but no transport configured", event)
				continue
			}

			if err := b.transport.Publish(ctx, event, payload); err != nil {
				b.logger.Errorf("hookbus: publishing %s failed: %v", event, err)
				return err
			}
		}
	}

	return nil
}
