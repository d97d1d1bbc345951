// Package backend talks to the device backend that online devices report to.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wifi_provisioner/internal/config"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status %d", e.Path, e.Code)
}

// Client is a rate limited, circuit broken HTTP client for the backend API.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *logger.Logger
}

func NewClient(baseURL string, cfg config.BackendConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("backend")

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("breaker_state_changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// 4xx answers mean the backend is healthy.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		// A caller that gave up says nothing about the backend.
		IsExcluded: func(err error) bool {
			var ae *abandonedError
			return errors.As(err, &ae)
		},
	})

	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: cb,
		log:     log,
	}
}

func (c *Client) BaseURL() string { return c.base }

// State fetches GET /state/{deviceID}.
func (c *Client) State(ctx context.Context, deviceID string) (models.ReachabilityState, error) {
	body, err := c.get(ctx, "/state/"+url.PathEscape(deviceID))
	if err != nil {
		return models.ReachabilityState{}, err
	}
	var st models.ReachabilityState
	if err := json.Unmarshal(body, &st); err != nil {
		return models.ReachabilityState{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// ResolveDeviceID maps a device code to the backend's device id through
// GET /resolve/{code}. The code itself is the id when the backend has no
// resolver or does not know the code.
func (c *Client) ResolveDeviceID(ctx context.Context, code string) string {
	body, err := c.get(ctx, "/resolve/"+url.PathEscape(code))
	if err != nil {
		c.log.Debugw("resolve_fallback", "code", code, "err", err)
		return code
	}
	var out struct {
		DeviceID string `json:"deviceId"`
	}
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.DeviceID) == "" {
		c.log.Debugw("resolve_fallback", "code", code, "err", err)
		return code
	}
	return out.DeviceID
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &abandonedError{err: err}
			}
			return nil, err
		}
		defer resp.Body.Close()
		c.log.Debugw("backend_request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Path: path}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("backend circuit open: %w", err)
		}
		return nil, err
	}
	return body, nil
}

// abandonedError marks a request cut short by the caller's context rather
// than by the backend or the client's own request timeout.
type abandonedError struct{ err error }

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }
