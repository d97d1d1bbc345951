package models

import "time"

// Attempt statuses.
const (
	AttemptRunning   = "RUNNING"
	AttemptConfirmed = "CONFIRMED"
	AttemptRejected  = "REJECTED"
)

// Attempt step event types.
const (
	EventStarted     = "STARTED"
	EventRadioResult = "RADIO_RESULT"
	EventPolling     = "POLLING"
	EventFinished    = "FINISHED"
)

// Attempt is one journaled provisioning run. The passphrase is never stored.
type Attempt struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	DeviceID   string    `json:"device_id"`
	SSID       string    `json:"ssid"`
	Status     string    `json:"status"` // RUNNING | CONFIRMED | REJECTED
	IP         string    `json:"ip,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// AttemptEvent is a single step entry of an attempt.
type AttemptEvent struct {
	EventID     string    `json:"event_id"`
	AttemptID   string    `json:"attempt_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // STARTED | RADIO_RESULT | POLLING | FINISHED
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
