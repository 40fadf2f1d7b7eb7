package model

// FunnelStats is the aggregate read path for the operator console.
type FunnelStats struct {
	FunnelID     string      `json:"funnel_id"`
	Total        int         `json:"total"`
	Active       int         `json:"active"`
	Completed    int         `json:"completed"`
	Unsubscribed int         `json:"unsubscribed"`
	MessagesSent int         `json:"messages_sent"`
	ByStep       map[int]int `json:"by_step"` // active enrollments per current step
}

// Add folds one status bucket into the totals.
func (s *FunnelStats) Add(status EnrollmentStatus, count, sent int) {
	s.Total += count
	s.MessagesSent += sent
	switch status {
	case EnrollmentActive:
		s.Active += count
	case EnrollmentCompleted:
		s.Completed += count
	case EnrollmentUnsubscribed:
		s.Unsubscribed += count
	}
}
