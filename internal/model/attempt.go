package model

import "time"

type AttemptOutcome string

const (
	AttemptSent   AttemptOutcome = "sent"
	AttemptFailed AttemptOutcome = "failed"
)

func (o AttemptOutcome) String() string { return string(o) }

func (o AttemptOutcome) Valid() bool { return o == AttemptSent || o == AttemptFailed }

// SendAttempt is one delivery attempt, persisted to the analytics store.
type SendAttempt struct {
	FunnelID     string         `db:"funnel_id" json:"funnel_id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Email        string         `db:"email" json:"email"`
	StepIndex    int            `db:"step_index" json:"step_index"`
	MessageID    string         `db:"message_id" json:"message_id"`
	Outcome      AttemptOutcome `db:"outcome" json:"outcome"`
	Error        string         `db:"error" json:"error,omitempty"`
	AttemptedAt  time.Time      `db:"attempted_at" json:"attempted_at"`
}
