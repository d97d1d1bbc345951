package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/repository"

	"github.com/google/uuid"
)

// JournalService records attempts and their steps and serves the history.
type JournalService struct {
	attempts repository.AttemptRepo
	events   repository.EventRepo
	hub      *ProgressHub
}

func NewJournalService(attempts repository.AttemptRepo, events repository.EventRepo, hub *ProgressHub) *JournalService {
	return &JournalService{attempts: attempts, events: events, hub: hub}
}

var (
	ErrInvalidTimeRange = errors.New("invalid time range: from must be <= to")
	ErrInvalidStatus    = errors.New("invalid status: must be RUNNING, CONFIRMED or REJECTED")
)

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeStatus trims spaces and uppercases the status filter.
func normalizeStatus(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates them.
func normalizeAndValidateFilter(f AttemptFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", ErrInvalidTimeRange
	}

	status := normalizeStatus(f.Status)
	switch status {
	case "", models.AttemptRunning, models.AttemptConfirmed, models.AttemptRejected:
	default:
		return time.Time{}, time.Time{}, "", ErrInvalidStatus
	}
	return from, to, status, nil
}

func (s *JournalService) List(ctx context.Context, f AttemptFilter) ([]models.Attempt, error) {
	from, to, status, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.attempts.List(ctx, from, to, status)
}

// Events returns the steps of one attempt, or repository.ErrAttemptNotFound.
func (s *JournalService) Events(ctx context.Context, attemptID string) ([]models.AttemptEvent, error) {
	if _, err := s.attempts.Get(ctx, attemptID); err != nil {
		return nil, err
	}
	return s.events.ListByAttempt(ctx, attemptID)
}

func (s *JournalService) Begin(ctx context.Context, a *models.Attempt) error {
	return s.attempts.Create(ctx, a)
}

func (s *JournalService) Complete(ctx context.Context, attemptID string, out models.Outcome, at time.Time) error {
	return s.attempts.Finish(ctx, attemptID, out, at)
}

// Record appends a step and publishes it to live subscribers. Subscribers see
// the step even when the append fails.
func (s *JournalService) Record(ctx context.Context, e models.AttemptEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	err := s.events.Append(ctx, e)
	if s.hub != nil {
		s.hub.Publish(e)
	}
	return err
}
