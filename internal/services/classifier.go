package services

import (
	"context"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"go.uber.org/zap"
)

// Enqueuer hands an appended event to the delivery pipeline. Enqueue
// reports false when the pipeline is saturated; the event stays in the log
// for pull consumers either way.
type Enqueuer interface {
	Enqueue(event *models.Event) bool
}

// Classifier evaluates host mutations against the active rules and appends
// qualifying events to the durable log. It sits on the host's write path,
// so it must be cheap for untracked entities and must never propagate a
// failure back to the caller.
type Classifier struct {
	cache      *RuleCache
	events     repositories.EventRepository
	limiter    RateLimiter
	dispatcher Enqueuer
	debouncer  *Debouncer
	logger     *zap.Logger
}

func NewClassifier(
	cache *RuleCache,
	events repositories.EventRepository,
	limiter RateLimiter,
	dispatcher Enqueuer,
	debouncer *Debouncer,
	logger *zap.Logger,
) *Classifier {
	return &Classifier{
		cache:      cache,
		events:     events,
		limiter:    limiter,
		dispatcher: dispatcher,
		debouncer:  debouncer,
		logger:     logger,
	}
}

// classification is the merged outcome of all rules a mutation matched.
type classification struct {
	priority    models.Priority
	category    models.Category
	instantRule *models.Rule
	debounce    time.Duration
}

// OnMutation runs the full capture flow for one host mutation. Errors and
// panics are logged and swallowed; the host transaction already committed
// and must not be affected.
func (c *Classifier) OnMutation(ctx context.Context, m models.Mutation) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during mutation classification",
				zap.String("entity_kind", m.EntityKind),
				zap.Int64("entity_id", m.EntityID),
				zap.Any("panic", r))
		}
	}()

	if !m.Operation.Valid() {
		c.logger.Warn("ignoring mutation with unknown operation",
			zap.String("operation", string(m.Operation)))
		return
	}
	if !c.cache.IsTracked(m.EntityKind) {
		return
	}

	cls, matched := c.classify(m)
	if !matched {
		return
	}

	if cls.debounce > 0 && c.debouncer != nil {
		// Later triggers for the same entity replace this one, so the
		// emission that fires reflects the newest mutation.
		mutation := m
		c.debouncer.Trigger(m.EntityKind, m.EntityID, cls.debounce, func() {
			c.emit(context.Background(), mutation, cls)
		})
		return
	}

	c.emit(ctx, m, cls)
}

// classify evaluates the active rules for the mutation's kind and
// operation. The merged result takes the highest priority across matches
// and the category of the earliest-created matching rule.
func (c *Classifier) classify(m models.Mutation) (classification, bool) {
	rules := c.cache.RulesFor(m.EntityKind, m.Operation)
	if len(rules) == 0 {
		return classification{}, false
	}

	values := m.Snapshot()
	var cls classification
	matched := false
	for _, rule := range rules {
		if !rule.MatchesPredicate(values) {
			continue
		}
		if m.Operation == models.OpUpdate && !rule.TrackedFieldChanged(m.Before, m.After) {
			continue
		}

		if !matched {
			cls.priority = rule.Priority
			cls.category = rule.Category
			matched = true
		} else if rule.Priority.Rank() > cls.priority.Rank() {
			cls.priority = rule.Priority
		}
		if cls.instantRule == nil && rule.InstantDelivery {
			cls.instantRule = rule
		}
		if debounce := time.Duration(rule.DebounceSeconds) * time.Second; debounce > cls.debounce {
			cls.debounce = debounce
		}
	}
	return cls, matched
}

func (c *Classifier) emit(ctx context.Context, m models.Mutation, cls classification) {
	occurredAt := m.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &models.Event{
		EntityKind: m.EntityKind,
		EntityID:   m.EntityID,
		Operation:  m.Operation,
		Payload:    eventPayload(m),
		OccurredAt: occurredAt,
		Actor:      m.Actor,
		Priority:   cls.priority,
		Category:   cls.category,
	}

	if err := c.events.Append(ctx, event); err != nil {
		c.logger.Error("failed to append event",
			zap.String("entity_kind", m.EntityKind),
			zap.Int64("entity_id", m.EntityID),
			zap.Error(err))
		return
	}

	c.logger.Debug("event captured",
		zap.Int64("event_id", event.ID),
		zap.String("entity_kind", event.EntityKind),
		zap.String("operation", string(event.Operation)),
		zap.String("priority", string(event.Priority)))

	if cls.instantRule == nil || c.dispatcher == nil {
		return
	}
	if c.limiter != nil && !c.limiter.Allow(ctx, cls.instantRule.ID, cls.instantRule.RateLimit) {
		// Over the rule's rate: the event stays in the log for pull
		// consumers but skips the push path.
		c.logger.Info("instant delivery suppressed by rate limit",
			zap.Int64("event_id", event.ID),
			zap.Int64("rule_id", cls.instantRule.ID))
		return
	}
	if !c.dispatcher.Enqueue(event) {
		c.logger.Warn("delivery queue full, event left for pull consumers",
			zap.Int64("event_id", event.ID))
	}
}

// eventPayload builds the stored payload from the mutation snapshot. Update
// events additionally carry the list of fields that changed under the
// _changed_fields key, so consumers can diff without refetching.
func eventPayload(m models.Mutation) map[string]any {
	snapshot := m.Snapshot()
	if m.Operation != models.OpUpdate {
		return snapshot
	}

	payload := make(map[string]any, len(snapshot)+1)
	for field, value := range snapshot {
		payload[field] = value
	}
	changed := m.ChangedFields()
	if changed == nil {
		changed = []string{}
	}
	payload["_changed_fields"] = changed
	return payload
}
