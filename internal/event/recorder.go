// Package event provides domain event recording for the write endpoints and
// the creation workflow. Events are fanned out as ActivityEntry records via
// the activity.Store interface, then published to the in-process event bus
// for downstream consumers.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/matthewbaird/canalworks/internal/activity"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Recorder writes domain events to the activity store.
type Recorder interface {
	Record(ctx context.Context, evt DomainEvent) error
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// ActivityRecorder implements Recorder by fanning out a DomainEvent into
// one ActivityEntry per affected entity, then writing via activity.Store.
// If a Publisher is set, the event is also published to the event bus
// after the store write succeeds.
type ActivityRecorder struct {
	store activity.Store
	bus   Publisher
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// SetPublisher attaches an event bus. Events are published after store writes.
func (r *ActivityRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

// Record fans out a DomainEvent into one ActivityEntry per distinct
// referenced entity, writes them, and publishes to the event bus.
func (r *ActivityRecorder) Record(ctx context.Context, evt DomainEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	entries := make([]types.ActivityEntry, 0, len(evt.AffectedEntities))
	seen := make(map[string]bool, len(evt.AffectedEntities))
	for _, ref := range evt.AffectedEntities {
		key := ref.EntityType + ":" + ref.EntityID
		if seen[key] || ref.EntityID == "" || ref.EntityID == "0" {
			continue
		}
		seen[key] = true
		entries = append(entries, types.ActivityEntry{
			EventID:           evt.ID,
			EventType:         evt.EventType,
			OccurredAt:        evt.OccurredAt,
			IndexedEntityType: ref.EntityType,
			IndexedEntityID:   ref.EntityID,
			EntityRole:        ref.Role,
			SourceRefs:        evt.AffectedEntities,
			Summary:           evt.Summary,
			Category:          evt.Category,
			Weight:            evt.Weight,
			Payload:           evt.Payload,
		})
	}
	if err := r.store.WriteEntries(ctx, entries); err != nil {
		return fmt.Errorf("recording %s: %w", evt.EventType, err)
	}

	if r.bus != nil {
		r.bus.Publish(ctx, evt)
	}
	return nil
}
