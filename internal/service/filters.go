package service

import "time"

// AttemptFilter supports history filtering by time range and status.
type AttemptFilter struct {
	From   time.Time // inclusive; zero means no lower bound
	To     time.Time // inclusive; zero means no upper bound
	Status string    // "", "RUNNING", "CONFIRMED", "REJECTED"
}
