package models

import (
	"time"
)

// DeadLetterEntry records an event whose instant delivery permanently
// failed. Entries are terminal until manually requeued; the underlying
// event stays unprocessed in the log so pull consumers can still fetch it.
type DeadLetterEntry struct {
	ID         int64     `json:"id"`
	EventID    int64     `json:"event_id"`
	FinalError string    `json:"final_error"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}
