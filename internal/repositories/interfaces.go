package repositories

import (
	"context"
	"time"

	"github.com/bridgecore/eventrelay/internal/models"
	"github.com/google/uuid"
)

type RuleRepository interface {
	Create(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, id int64) (*models.Rule, error)
	Update(ctx context.Context, rule *models.Rule) error
	Delete(ctx context.Context, id int64) error
	// ListActive returns active rules ordered by creation id.
	ListActive(ctx context.Context) ([]*models.Rule, error)
	List(ctx context.Context) ([]*models.Rule, error)
}

type EventRepository interface {
	// Append stores the event and assigns a strictly increasing id.
	Append(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int64) (*models.Event, error)
	// Pull returns unprocessed, unarchived events with id > afterID in
	// ascending id order, and whether more such events remain.
	Pull(ctx context.Context, afterID int64, limit int, filters models.PullFilters) ([]*models.Event, bool, error)
	// MarkProcessed is idempotent: already-processed ids are skipped and
	// only newly transitioned rows are counted.
	MarkProcessed(ctx context.Context, ids []int64) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	// Archive flags processed events older than the cutoff.
	Archive(ctx context.Context, cutoff time.Time) (int64, error)
	// Purge deletes archived events older than the cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, windowDays int) (*models.EventStats, error)
}

type CursorRepository interface {
	GetOrCreate(ctx context.Context, key models.ConsumerKey, meta models.CursorMeta) (*models.ConsumerCursor, error)
	// Advance moves the cursor forward. It returns ErrCursorRegression if
	// lastEventID is lower than the stored watermark and reset is false.
	Advance(ctx context.Context, key models.ConsumerKey, lastEventID int64, eventsSynced int, reset bool) (*models.ConsumerCursor, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConsumerCursor, error)
	StatsFor(ctx context.Context, userID uuid.UUID, deviceID, appType string) (*models.CursorStats, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterRepository interface {
	Create(ctx context.Context, entry *models.DeadLetterEntry) error
	List(ctx context.Context, limit int) ([]*models.DeadLetterEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
