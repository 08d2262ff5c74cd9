package types

import "time"

// TrackingEvent is one scan/update reported by the shipment provider.
type TrackingEvent struct {
	StatusCode int       `json:"status_code"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TrackingEvents is the provider event history stored on a shipment.
type TrackingEvents []TrackingEvent
