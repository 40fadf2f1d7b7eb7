package model

import "time"

// Step is one message within a funnel (funnel_steps table).
// Index is 1-based and defines the order of the sequence.
type Step struct {
	ID          string    `db:"id" json:"id"`
	FunnelID    string    `db:"funnel_id" json:"funnel_id"`
	Index       int       `db:"step_index" json:"index"`
	Subject     string    `db:"subject" json:"subject"`
	Body        string    `db:"body" json:"body"`
	DelayDays   int       `db:"delay_days" json:"delay_days"`
	DelayHours  int       `db:"delay_hours" json:"delay_hours"`
	CTAURL      string    `db:"cta_url" json:"cta_url"`
	CTALabel    string    `db:"cta_label" json:"cta_label"`
	SenderName  string    `db:"sender_name" json:"sender_name"`
	SenderEmail string    `db:"sender_email" json:"sender_email"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Delay is the wait since the previous step's send.
func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}
