package model

import "time"

// TriggerEvent is the payload consumed from Kafka by the events worker.
type TriggerEvent struct {
	Type       string    `json:"type"` // e.g. course.purchased
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
