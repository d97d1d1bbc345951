package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wifi_provisioner/internal/models"
)

var ErrAttemptNotFound = errors.New("attempt not found")

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.Operator, error)
}

type AttemptRepo interface {
	Create(ctx context.Context, a *models.Attempt) error
	Finish(ctx context.Context, id string, out models.Outcome, at time.Time) error
	Get(ctx context.Context, id string) (models.Attempt, error)
	Latest(ctx context.Context) (models.Attempt, error)
	List(ctx context.Context, from, to time.Time, status string) ([]models.Attempt, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.AttemptEvent) error
	ListByAttempt(ctx context.Context, attemptID string) ([]models.AttemptEvent, error)
}

type Repository struct {
	Attempts AttemptRepo
	Events   EventRepo
	Auth     Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Attempts: NewAttemptSQLite(db),
		Events:   NewEventSQLite(db),
		Auth:     NewOperatorRepository(db),
	}
}
