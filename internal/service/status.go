package service

import (
	"context"
	"errors"
	"time"

	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/repository"
)

// GatewayStatus is what an operator app shows before starting an attempt.
type GatewayStatus struct {
	Busy        bool            `json:"busy"`
	LastAttempt *models.Attempt `json:"last_attempt,omitempty"`
}

type busyReporter interface {
	Busy() bool
}

type MonitoringService struct {
	attempts repository.AttemptRepo
	radio    busyReporter
}

func NewMonitoringService(attempts repository.AttemptRepo, radio busyReporter) *MonitoringService {
	return &MonitoringService{attempts: attempts, radio: radio}
}

// GetStatus reports whether the radio is in use and the most recent attempt.
func (s *MonitoringService) GetStatus(ctx context.Context) (GatewayStatus, error) {
	st := GatewayStatus{Busy: s.radio.Busy()}
	last, err := s.attempts.Latest(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return st, nil
		}
		return GatewayStatus{}, err
	}
	last.StartedAt = toUTC(last.StartedAt)
	last.FinishedAt = toUTC(last.FinishedAt)
	st.LastAttempt = &last
	return st, nil
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
