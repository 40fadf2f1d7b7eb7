package model

import (
	"strings"
	"time"
)

type EnrollmentStatus string

const (
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
)

func (s EnrollmentStatus) String() string {
	return string(s)
}

func (s EnrollmentStatus) Valid() bool {
	return s == EnrollmentActive || s == EnrollmentCompleted || s == EnrollmentUnsubscribed
}

// Terminal reports whether the processor must never select the enrollment again.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentUnsubscribed
}

// Enrollment is one recipient's progress through one funnel.
// (FunnelID, Email) is the natural key.
type Enrollment struct {
	ID           string           `db:"id" json:"id"`
	FunnelID     string           `db:"funnel_id" json:"funnel_id"`
	Email        string           `db:"email" json:"email"`
	Name         string           `db:"name" json:"name,omitempty"`
	CurrentStep  int              `db:"current_step" json:"current_step"`
	LastSentAt   *time.Time       `db:"last_sent_at" json:"last_sent_at,omitempty"`
	SentCount    int              `db:"sent_count" json:"sent_count"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	ClaimToken   *string          `db:"claim_token" json:"-"`
	ClaimedUntil *time.Time       `db:"claimed_until" json:"-"`
	ChainedAt    *time.Time       `db:"chained_at" json:"chained_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the recorded name or, failing that, the local part of the address.
func (e Enrollment) DisplayName() string {
	if n := strings.TrimSpace(e.Name); n != "" {
		return n
	}
	if i := strings.IndexByte(e.Email, '@'); i > 0 {
		return e.Email[:i]
	}
	return e.Email
}
