package service

import (
	"context"

	"wifi_provisioner/internal/config"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Provisioning runs credential hand-offs, one at a time.
type Provisioning interface {
	Provision(ctx context.Context, req models.ProvisioningRequest) (models.Attempt, error)
	Available(ctx context.Context, code string) (bool, error)
}

// Monitoring exposes read-only gateway status.
type Monitoring interface {
	GetStatus(ctx context.Context) (GatewayStatus, error)
}

// Journal exposes the attempt history with filtering access.
type Journal interface {
	List(ctx context.Context, f AttemptFilter) ([]models.Attempt, error)
	Events(ctx context.Context, attemptID string) ([]models.AttemptEvent, error)
}

// Progress streams attempt step events to live subscribers.
type Progress interface {
	Subscribe() (<-chan models.AttemptEvent, func())
}

// Retention prunes old journal entries on a schedule until ctx is canceled.
type Retention interface {
	Run(ctx context.Context) error
}

type Service struct {
	Provisioning
	Monitoring
	Journal
	Progress
	Retention
	Authorization
}

// Radio groups the collaborators that reach outside the process: the BLE
// channel, the availability probe, the confirmation arbiter and the backend
// id resolver.
type Radio struct {
	Channel  DeviceChannel
	Probe    AvailabilityProbe
	Confirm  Confirmer
	Resolver DeviceResolver
}

func NewService(repos *repository.Repository, radio Radio, cfg *config.Config, log *logger.Logger) *Service {
	hub := NewProgressHub()
	journal := NewJournalService(repos.Attempts, repos.Events, hub)
	prov := NewProvisioningService(radio, journal, cfg.BLE.AvailabilityTimeout, log)
	return &Service{
		Provisioning:  prov,
		Monitoring:    NewMonitoringService(repos.Attempts, prov),
		Journal:       journal,
		Progress:      hub,
		Retention:     NewRetentionService(repos.Attempts, cfg.Retention, log),
		Authorization: NewAuthService(repos.Auth, cfg.Auth),
	}
}
