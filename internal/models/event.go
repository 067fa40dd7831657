package models

import "time"

const EntityProcessedEvents = "processed_events"

// ProcessedEvent is the write-once dedup log for inbound provider events.
// The record id is the provider event id; the unique constraint on it is the
// idempotency guard, so existence of a record means the event was seen.
type ProcessedEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
}
