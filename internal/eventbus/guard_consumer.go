package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matthewbaird/canalworks/internal/dupguard"
	"github.com/matthewbaird/canalworks/internal/event"
)

// GuardConsumer keeps a duplicate-name guard current with works created
// and deleted through any endpoint, including a saga's compensation.
type GuardConsumer struct {
	guard *dupguard.Guard
}

func NewGuardConsumer(g *dupguard.Guard) *GuardConsumer {
	return &GuardConsumer{guard: g}
}

func (c *GuardConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	switch evt.EventType {
	case event.TypeWorkPackageCreated:
		var p event.WorkPackageCreatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", evt.EventType, err)
		}
		c.guard.Add(p.Name)
	case event.TypeWorkPackageDeleted:
		var p event.WorkPackageDeletedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return fmt.Errorf("decoding %s payload: %w", evt.EventType, err)
		}
		c.guard.Remove(p.Name)
	}
	return nil
}
