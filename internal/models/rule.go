package models

import (
	"time"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities so the classifier can pick the highest among
// several matching rules. Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type Category string

const (
	CategoryBusiness     Category = "business"
	CategorySystem       Category = "system"
	CategoryNotification Category = "notification"
	CategoryCustom       Category = "custom"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBusiness, CategorySystem, CategoryNotification, CategoryCustom:
		return true
	}
	return false
}

// Rule defines which mutations on an entity kind are captured and how the
// resulting events are prioritized and delivered.
type Rule struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	EntityKind      string    `json:"entity_kind"`
	Operation       Operation `json:"operation"`
	Predicate       Predicate `json:"predicate,omitempty"`
	TrackedFields   []string  `json:"tracked_fields,omitempty"`
	Priority        Priority  `json:"priority"`
	Category        Category  `json:"category"`
	InstantDelivery bool      `json:"instant_delivery"`
	RateLimit       int       `json:"rate_limit"`       // max events per minute, 0 = unbounded
	DebounceSeconds int       `json:"debounce_seconds"` // 0 = no debounce
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// MatchesPredicate reports whether the rule's optional predicate holds for
// the given field values. A rule without a predicate matches everything.
func (r *Rule) MatchesPredicate(values map[string]any) bool {
	if len(r.Predicate) == 0 {
		return true
	}
	return r.Predicate.Match(values)
}

// TrackedFieldChanged reports whether at least one of the rule's tracked
// fields differs between the before and after snapshots. Rules without
// tracked fields treat every update as relevant.
func (r *Rule) TrackedFieldChanged(before, after map[string]any) bool {
	if len(r.TrackedFields) == 0 {
		return true
	}
	for _, field := range r.TrackedFields {
		if !valuesEqual(before[field], after[field]) {
			return true
		}
	}
	return false
}
