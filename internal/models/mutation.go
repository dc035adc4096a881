package models

import (
	"time"
)

// Mutation is the raw change notification handed to the classifier by the
// host application. Before is nil for creates; After is nil for deletes.
type Mutation struct {
	EntityKind string         `json:"entity_kind"`
	EntityID   int64          `json:"entity_id"`
	Operation  Operation      `json:"operation"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
}

// ChangedFields lists the fields whose values differ between the before and
// after snapshots. Fields present on only one side count as changed.
func (m Mutation) ChangedFields() []string {
	if m.Operation != OpUpdate {
		return nil
	}
	var changed []string
	for field, after := range m.After {
		if !valuesEqual(m.Before[field], after) {
			changed = append(changed, field)
		}
	}
	for field := range m.Before {
		if _, ok := m.After[field]; !ok {
			changed = append(changed, field)
		}
	}
	return changed
}

// Snapshot returns the field values the resulting event should carry:
// after-values for creates and updates, before-values for deletes (the
// record is gone by the time the event is read).
func (m Mutation) Snapshot() map[string]any {
	if m.Operation == OpDelete {
		return m.Before
	}
	return m.After
}
