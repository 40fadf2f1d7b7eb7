package funnel

import "errors"

var (
	ErrFunnelNotFound = errors.New("funnel not found")
	ErrStepNotFound   = errors.New("step not found")
	// ErrClaimLost means another pass changed the enrollment after it was claimed.
	ErrClaimLost = errors.New("enrollment claim lost")
	// ErrLocked means another process is running the funnel right now.
	ErrLocked = errors.New("funnel is locked by another run")
	// ErrInvalid wraps operator input that fails validation.
	ErrInvalid = errors.New("invalid input")
	// ErrAnalyticsDisabled is returned by attempt reports when no send log is configured.
	ErrAnalyticsDisabled = errors.New("send-attempt log is not configured")
)
