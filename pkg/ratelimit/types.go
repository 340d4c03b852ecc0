package ratelimit

import "time"

// Class is an endpoint class with its own fixed-window limit.
type Class string

const (
	ClassQuery    Class = "query"
	ClassFeedback Class = "feedback"
	ClassTicket   Class = "ticket"
	ClassDefault  Class = "default"
)

// Rule is a fixed-window limit.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// Decision is the result of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ResetInSeconds returns the whole seconds until the window resets,
// never negative.
func (d *Decision) ResetInSeconds() int64 {
	secs := int64(time.Until(d.ResetAt).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
