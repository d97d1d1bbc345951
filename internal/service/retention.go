package service

import (
	"context"
	"fmt"
	"time"

	"wifi_provisioner/internal/config"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/repository"

	"github.com/robfig/cron/v3"
)

const pruneTimeout = time.Minute

// RetentionService deletes finished attempts older than MaxAge on a schedule.
type RetentionService struct {
	attempts repository.AttemptRepo
	schedule string
	maxAge   time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func NewRetentionService(attempts repository.AttemptRepo, cfg config.RetentionConfig, log *logger.Logger) *RetentionService {
	if log == nil {
		log = logger.Nop()
	}
	return &RetentionService{
		attempts: attempts,
		schedule: cfg.Schedule,
		maxAge:   cfg.MaxAge,
		log:      log.Named("retention"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Prune deletes attempts that started before now - MaxAge.
func (s *RetentionService) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.attempts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Infow("journal_pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Run schedules Prune until ctx is canceled. A non-positive MaxAge disables
// pruning.
func (s *RetentionService) Run(ctx context.Context) error {
	if s.maxAge <= 0 {
		s.log.Infow("retention_disabled")
		<-ctx.Done()
		return nil
	}
	sched, err := parseSchedule(s.schedule)
	if err != nil {
		return err
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		pctx, cancel := context.WithTimeout(ctx, pruneTimeout)
		defer cancel()
		if _, err := s.Prune(pctx); err != nil {
			s.log.Errorw("journal_prune_failed", "err", err)
		}
	}))
	c.Start()
	s.log.Infow("retention_started", "schedule", s.schedule, "max_age", s.maxAge)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// parseSchedule accepts a cron expression, a descriptor such as "@daily", or
// a Go duration.
func parseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("retention: empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(expr)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("retention: %q is neither a cron expression nor a positive duration", expr)
	}
	return cron.Every(d), nil
}
