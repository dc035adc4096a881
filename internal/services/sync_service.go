package services

import (
	"context"
	"errors"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/bridgecore/eventrelay/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidDeviceID  = errors.New("device_id must be at least 3 characters")
	ErrInvalidWatermark = errors.New("last_event_id must be non-negative")
)

// SyncService manages per-consumer pull cursors: where each (user, device,
// app) consumer stands in the event log and how much it has synced.
type SyncService struct {
	cursors repositories.CursorRepository
	logger  *zap.Logger
}

func NewSyncService(cursors repositories.CursorRepository, logger *zap.Logger) *SyncService {
	return &SyncService{cursors: cursors, logger: logger}
}

func (s *SyncService) GetOrCreate(ctx context.Context, key models.ConsumerKey, meta models.CursorMeta) (*models.ConsumerCursor, error) {
	if len(key.DeviceID) < 3 {
		return nil, ErrInvalidDeviceID
	}
	if key.AppType == "" {
		key.AppType = "mobile_app"
	}
	return s.cursors.GetOrCreate(ctx, key, meta)
}

// Advance moves a consumer's watermark forward. Regressions are rejected
// unless reset is set, which deliberately rewinds the cursor for a full
// re-sync.
func (s *SyncService) Advance(ctx context.Context, key models.ConsumerKey, lastEventID int64, eventsSynced int, reset bool) (*models.ConsumerCursor, error) {
	if len(key.DeviceID) < 3 {
		return nil, ErrInvalidDeviceID
	}
	if key.AppType == "" {
		key.AppType = "mobile_app"
	}
	if lastEventID < 0 {
		return nil, ErrInvalidWatermark
	}
	if eventsSynced < 0 {
		eventsSynced = 0
	}

	cursor, err := s.cursors.Advance(ctx, key, lastEventID, eventsSynced, reset)
	if err != nil {
		return nil, err
	}

	if reset {
		s.logger.Info("cursor reset",
			zap.String("user_id", key.UserID.String()),
			zap.String("device_id", key.DeviceID),
			zap.Int64("last_event_id", lastEventID))
	}
	return cursor, nil
}

func (s *SyncService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConsumerCursor, error) {
	return s.cursors.ListForUser(ctx, userID)
}

func (s *SyncService) StatsFor(ctx context.Context, userID uuid.UUID, deviceID, appType string) (*models.CursorStats, error) {
	return s.cursors.StatsFor(ctx, userID, deviceID, appType)
}
