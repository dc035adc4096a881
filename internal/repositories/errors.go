package repositories

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCursorRegression is returned when a cursor advance would move the
	// watermark backwards without an explicit reset.
	ErrCursorRegression = errors.New("cursor regression: last_event_id is lower than the stored value")

	// ErrDuplicateRule is returned when an active rule already exists for
	// the same entity kind and operation.
	ErrDuplicateRule = errors.New("an active rule already exists for this entity kind and operation")
)
