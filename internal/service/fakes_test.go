package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/repository"
)

// fakeAttemptRepo is an in-memory repository.AttemptRepo.
type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]models.Attempt
	seq      int

	createErr error
	finishErr error
	listErr   error
	deleteErr error
	latestErr error

	// captured List inputs
	listCalls  int
	gotFrom    time.Time
	gotTo      time.Time
	gotStatus  string
	gotCutoff  time.Time
	deleteResp int64
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: make(map[string]models.Attempt)}
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *models.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.seq++
	if a.ID == "" {
		a.ID = fmt.Sprintf("att-%d", f.seq)
	}
	a.Status = models.AttemptRunning
	f.attempts[a.ID] = *a
	return nil
}

func (f *fakeAttemptRepo) Finish(ctx context.Context, id string, out models.Outcome, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	a.Status = models.AttemptRejected
	if out.Confirmed {
		a.Status = models.AttemptConfirmed
	}
	a.IP, a.Reason, a.Kind, a.FinishedAt = out.IP, out.Reason, out.Kind, at
	f.attempts[id] = a
	return nil
}

func (f *fakeAttemptRepo) Get(ctx context.Context, id string) (models.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return models.Attempt{}, repository.ErrAttemptNotFound
	}
	return a, nil
}

func (f *fakeAttemptRepo) Latest(ctx context.Context) (models.Attempt, error) {
	if f.latestErr != nil {
		return models.Attempt{}, f.latestErr
	}
	all := f.sorted()
	if len(all) == 0 {
		return models.Attempt{}, repository.ErrAttemptNotFound
	}
	return all[0], nil
}

func (f *fakeAttemptRepo) List(ctx context.Context, from, to time.Time, status string) ([]models.Attempt, error) {
	f.mu.Lock()
	f.listCalls++
	f.gotFrom, f.gotTo, f.gotStatus = from, to, status
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.sorted(), nil
}

func (f *fakeAttemptRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCutoff = cutoff
	return f.deleteResp, f.deleteErr
}

func (f *fakeAttemptRepo) sorted() []models.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Attempt, 0, len(f.attempts))
	for _, a := range f.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (f *fakeAttemptRepo) get(id string) models.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

// fakeEventRepo is an in-memory repository.EventRepo.
type fakeEventRepo struct {
	mu        sync.Mutex
	events    []models.AttemptEvent
	appendErr error
	listErr   error
}

func (f *fakeEventRepo) Append(ctx context.Context, e models.AttemptEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventRepo) ListByAttempt(ctx context.Context, attemptID string) ([]models.AttemptEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.AttemptEvent
	for _, e := range f.events {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// stubChannel returns a canned radio result, optionally after a release signal.
type stubChannel struct {
	mu      sync.Mutex
	res     models.ProvisioningResult
	err     error
	release chan struct{}
	entered chan struct{}
	calls   int
	gotReq  models.ProvisioningRequest
}

func (s *stubChannel) Send(ctx context.Context, req models.ProvisioningRequest) (models.ProvisioningResult, error) {
	s.mu.Lock()
	s.calls++
	s.gotReq = req
	s.mu.Unlock()
	if s.entered != nil {
		close(s.entered)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return models.ProvisioningResult{}, ctx.Err()
		}
	}
	return s.res, s.err
}

type stubProbe struct {
	available  bool
	gotCode    string
	gotTimeout time.Duration
}

func (s *stubProbe) IsAvailable(ctx context.Context, code string, timeout time.Duration) bool {
	s.gotCode, s.gotTimeout = code, timeout
	return s.available
}

type stubConfirmer struct {
	out          models.Outcome
	calls        int
	gotPrimary   models.ProvisioningResult
	gotDeviceID  string
	gotWatermark time.Time
}

func (s *stubConfirmer) Resolve(ctx context.Context, primary models.ProvisioningResult, deviceID string, watermark time.Time) models.Outcome {
	s.calls++
	s.gotPrimary, s.gotDeviceID, s.gotWatermark = primary, deviceID, watermark
	return s.out
}

type stubResolver struct {
	ids map[string]string
}

func (s stubResolver) ResolveDeviceID(ctx context.Context, code string) string {
	if id, ok := s.ids[code]; ok {
		return id
	}
	return code
}
