package handlers

import (
	"context"
	"net/http"
	"sync"

	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockProvisioning struct {
	attempt      models.Attempt
	provisionErr error
	available    bool
	availableErr error

	lastReq       models.ProvisioningRequest
	lastCode      string
	provisionCall int
}

func (m *mockProvisioning) Provision(ctx context.Context, req models.ProvisioningRequest) (models.Attempt, error) {
	m.provisionCall++
	m.lastReq = req
	return m.attempt, m.provisionErr
}
func (m *mockProvisioning) Available(ctx context.Context, code string) (bool, error) {
	m.lastCode = code
	return m.available, m.availableErr
}

type mockMonitoring struct {
	status service.GatewayStatus
	err    error
}

func (m *mockMonitoring) GetStatus(ctx context.Context) (service.GatewayStatus, error) {
	return m.status, m.err
}

type mockJournal struct {
	attempts  []models.Attempt
	events    []models.AttemptEvent
	listErr   error
	eventsErr error

	lastFilter service.AttemptFilter
	lastID     string
}

func (m *mockJournal) List(ctx context.Context, f service.AttemptFilter) ([]models.Attempt, error) {
	m.lastFilter = f
	return m.attempts, m.listErr
}
func (m *mockJournal) Events(ctx context.Context, attemptID string) ([]models.AttemptEvent, error) {
	m.lastID = attemptID
	return m.events, m.eventsErr
}

// mockProgress hands out one channel the test feeds directly.
type mockProgress struct {
	ch         chan models.AttemptEvent
	mu         sync.Mutex
	subscribed chan struct{}
	cancelled  bool
}

func newMockProgress() *mockProgress {
	return &mockProgress{ch: make(chan models.AttemptEvent, 8), subscribed: make(chan struct{})}
}

func (m *mockProgress) Subscribe() (<-chan models.AttemptEvent, func()) {
	close(m.subscribed)
	return m.ch, func() {
		m.mu.Lock()
		m.cancelled = true
		m.mu.Unlock()
	}
}

func (m *mockProgress) wasCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func withHeaders(req *http.Request, hdr http.Header) *http.Request {
	for k, vv := range hdr {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return req
}
