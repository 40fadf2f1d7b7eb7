package model

import (
	"strings"
	"time"
)

const (
	TriggerManual      = "manual"
	triggerEventPrefix = "event:"
)

// Funnel is a named, ordered email sequence (funnels table).
type Funnel struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Description     string     `db:"description" json:"description"`
	Trigger         string     `db:"trigger_kind" json:"trigger"` // manual | event:<type>
	Active          bool       `db:"active" json:"active"`
	ChainFunnelID   *string    `db:"chain_funnel_id" json:"chain_funnel_id,omitempty"`
	LastProcessedAt *time.Time `db:"last_processed_at" json:"last_processed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// EventTrigger builds the trigger descriptor for an external event type.
func EventTrigger(eventType string) string {
	return triggerEventPrefix + strings.ToLower(strings.TrimSpace(eventType))
}

// ParseTrigger normalizes a trigger descriptor; empty => manual.
// Returns (value, true) if valid; otherwise (manual, false).
func ParseTrigger(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == TriggerManual:
		return TriggerManual, true
	case strings.HasPrefix(s, triggerEventPrefix) && len(s) > len(triggerEventPrefix):
		return s, true
	default:
		return TriggerManual, false
	}
}
