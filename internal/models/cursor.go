package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsumerKey identifies a pull consumer stream: one cursor per distinct
// user + device + application combination.
type ConsumerKey struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID string    `json:"device_id"`
	AppType  string    `json:"app_type"`
}

// CursorMeta carries optional device metadata recorded on first contact.
type CursorMeta struct {
	DeviceInfo string `json:"device_info,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// ConsumerCursor is a consumer-owned watermark over the event log.
// LastEventID never regresses unless an operator explicitly resets it.
type ConsumerCursor struct {
	ID             int64      `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	DeviceID       string     `json:"device_id"`
	AppType        string     `json:"app_type"`
	LastEventID    int64      `json:"last_event_id"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	SyncCount      int64      `json:"sync_count"`
	LastEventCount int        `json:"last_event_count"`
	TotalSynced    int64      `json:"total_synced"`
	DeviceInfo     string     `json:"device_info,omitempty"`
	AppVersion     string     `json:"app_version,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CursorStats aggregates cursors across the devices of a user.
type CursorStats struct {
	TotalCursors int64            `json:"total_cursors"`
	TotalSyncs   int64            `json:"total_syncs"`
	TotalSynced  int64            `json:"total_events_synced"`
	MinEventID   int64            `json:"min_last_event_id"`
	MaxEventID   int64            `json:"max_last_event_id"`
	ByAppType    map[string]int64 `json:"by_app_type"`
}
