package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"go.uber.org/zap"
)

// RuleCache keeps the active monitored rules in an immutable in-memory
// index. Rebuilds produce a fresh snapshot and swap it in atomically, so
// concurrent mutation callbacks never observe a half-built index and the
// read path takes no locks.
type RuleCache struct {
	repo     repositories.RuleRepository
	logger   *zap.Logger
	snapshot atomic.Pointer[ruleSnapshot]
}

type ruleSnapshot struct {
	// rules per (entity kind, operation), ordered by rule creation id
	byKindOp map[string]map[models.Operation][]*models.Rule
}

func NewRuleCache(repo repositories.RuleRepository, logger *zap.Logger) *RuleCache {
	c := &RuleCache{repo: repo, logger: logger}
	c.snapshot.Store(&ruleSnapshot{byKindOp: make(map[string]map[models.Operation][]*models.Rule)})
	return c
}

// Invalidate rebuilds the index from the rule store and swaps it in. Called
// after every rule write and once at startup.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	rules, err := c.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild rule cache: %w", err)
	}

	next := &ruleSnapshot{byKindOp: make(map[string]map[models.Operation][]*models.Rule)}
	for _, rule := range rules {
		ops, ok := next.byKindOp[rule.EntityKind]
		if !ok {
			ops = make(map[models.Operation][]*models.Rule)
			next.byKindOp[rule.EntityKind] = ops
		}
		ops[rule.Operation] = append(ops[rule.Operation], rule)
	}

	c.snapshot.Store(next)
	c.logger.Info("rule cache rebuilt",
		zap.Int("rules", len(rules)),
		zap.Int("entity_kinds", len(next.byKindOp)))
	return nil
}

// IsTracked is the early-exit check taken on every host mutation before any
// rule evaluation; untracked entity kinds cost a single map lookup.
func (c *RuleCache) IsTracked(entityKind string) bool {
	_, ok := c.snapshot.Load().byKindOp[entityKind]
	return ok
}

// RulesFor returns the active rules for an entity kind and operation in
// creation order. The returned slice is shared with the snapshot and must
// not be modified.
func (c *RuleCache) RulesFor(entityKind string, op models.Operation) []*models.Rule {
	ops, ok := c.snapshot.Load().byKindOp[entityKind]
	if !ok {
		return nil
	}
	return ops[op]
}
