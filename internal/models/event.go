package models

import (
	"time"
)

// Event is a single captured mutation in the durable event log. IDs are
// assigned by the log in strictly increasing order and never reused.
type Event struct {
	ID          int64          `json:"id"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    int64          `json:"entity_id"`
	Operation   Operation      `json:"operation"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Actor       string         `json:"actor,omitempty"`
	Priority    Priority       `json:"priority"`
	Category    Category       `json:"category"`
	Processed   bool           `json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Archived    bool           `json:"archived"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// PullFilters narrows a pull to specific entity kinds and/or a priority.
type PullFilters struct {
	EntityKinds []string
	Priority    Priority
}

// EventStats aggregates log counts over a bounded time window.
type EventStats struct {
	PeriodDays int              `json:"period_days"`
	Total      int64            `json:"total"`
	Processed  int64            `json:"processed"`
	Pending    int64            `json:"pending"`
	Archived   int64            `json:"archived"`
	ByModel    []ModelCount     `json:"by_model"`
	ByPriority map[string]int64 `json:"by_priority"`
}

type ModelCount struct {
	Model string `json:"model"`
	Count int64  `json:"count"`
}
