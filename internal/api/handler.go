package api

import (
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/bridgecore/eventrelay/internal/services"
	"go.uber.org/zap"
)

// Handler carries the dependencies shared by all HTTP endpoints.
type Handler struct {
	events      repositories.EventRepository
	rules       repositories.RuleRepository
	deadLetters repositories.DeadLetterRepository
	cache       *services.RuleCache
	classifier  *services.Classifier
	sync        *services.SyncService
	sweeper     *services.Sweeper
	logger      *zap.Logger
}

func NewHandler(
	events repositories.EventRepository,
	rules repositories.RuleRepository,
	deadLetters repositories.DeadLetterRepository,
	cache *services.RuleCache,
	classifier *services.Classifier,
	sync *services.SyncService,
	sweeper *services.Sweeper,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		events:      events,
		rules:       rules,
		deadLetters: deadLetters,
		cache:       cache,
		classifier:  classifier,
		sync:        sync,
		sweeper:     sweeper,
		logger:      logger,
	}
}
