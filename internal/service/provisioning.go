package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/tracer"
)

// DeviceChannel performs one BLE credential exchange.
type DeviceChannel interface {
	Send(ctx context.Context, req models.ProvisioningRequest) (models.ProvisioningResult, error)
}

// AvailabilityProbe answers whether a device is advertising in setup mode.
type AvailabilityProbe interface {
	IsAvailable(ctx context.Context, code string, timeout time.Duration) bool
}

// Confirmer turns a radio result into the final outcome.
type Confirmer interface {
	Resolve(ctx context.Context, primary models.ProvisioningResult, deviceID string, watermark time.Time) models.Outcome
}

// DeviceResolver maps a device code to the backend device id.
type DeviceResolver interface {
	ResolveDeviceID(ctx context.Context, code string) string
}

// KindCancelled marks attempts abandoned because the caller went away.
const KindCancelled = "CANCELLED"

var ErrAttemptInProgress = errors.New("another provisioning attempt is in progress")

var radioFailureMessages = map[ble.Kind]string{
	ble.KindPermissionDenied: "Bluetooth is not available on the gateway.",
	ble.KindScanTimeout:      "No device in setup mode was found for this code.",
	ble.KindConnectionFailed: "Could not talk to the device over Bluetooth.",
	ble.KindDiscoveryFailed:  "The device does not offer Wi-Fi provisioning.",
}

// ProvisioningService runs one attempt at a time: radio exchange, optional
// reachability fallback, journal entries and progress events.
type ProvisioningService struct {
	mu   sync.Mutex
	busy atomic.Bool

	radio               Radio
	journal             *JournalService
	availabilityTimeout time.Duration
	log                 *logger.Logger
	now                 func() time.Time
}

func NewProvisioningService(radio Radio, journal *JournalService, availabilityTimeout time.Duration, log *logger.Logger) *ProvisioningService {
	if log == nil {
		log = logger.Nop()
	}
	return &ProvisioningService{
		radio:               radio,
		journal:             journal,
		availabilityTimeout: availabilityTimeout,
		log:                 log.Named("provisioning"),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// Busy reports whether an attempt or availability probe holds the radio.
func (s *ProvisioningService) Busy() bool { return s.busy.Load() }

func (s *ProvisioningService) acquire() bool {
	if !s.mu.TryLock() {
		return false
	}
	s.busy.Store(true)
	return true
}

func (s *ProvisioningService) release() {
	s.busy.Store(false)
	s.mu.Unlock()
}

// Available probes for the device with the short availability timeout.
func (s *ProvisioningService) Available(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, ble.ErrEmptyCode
	}
	if !s.acquire() {
		return false, ErrAttemptInProgress
	}
	defer s.release()

	ctx, span := tracer.StartSpan(ctx, "provision.available")
	defer span.End()
	ok := s.radio.Probe.IsAvailable(ctx, code, s.availabilityTimeout)
	span.SetAttributes(tracer.StringAttr("device.code", code), tracer.BoolAttr("available", ok))
	return ok, nil
}

// Provision hands req to the device and returns the journaled attempt with
// its final status. Rejections are not errors; errors mean the attempt could
// not run or could not be journaled.
func (s *ProvisioningService) Provision(ctx context.Context, req models.ProvisioningRequest) (models.Attempt, error) {
	req.Code = strings.TrimSpace(req.Code)
	if strings.TrimSpace(req.SSID) == "" {
		return models.Attempt{}, ble.ErrEmptySSID
	}
	if req.Code == "" {
		return models.Attempt{}, ble.ErrEmptyCode
	}
	if !s.acquire() {
		return models.Attempt{}, ErrAttemptInProgress
	}
	defer s.release()

	ctx, span := tracer.StartSpan(ctx, "provision.attempt")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("device.code", req.Code))

	watermark := s.now()
	deviceID := s.radio.Resolver.ResolveDeviceID(ctx, req.Code)

	attempt := models.Attempt{Code: req.Code, DeviceID: deviceID, SSID: req.SSID, StartedAt: watermark}
	if err := s.journal.Begin(ctx, &attempt); err != nil {
		tracer.RecordError(span, err)
		return models.Attempt{}, fmt.Errorf("begin attempt: %w", err)
	}
	log := s.log.With("attempt_id", attempt.ID, "code", req.Code)
	log.Infow("attempt_started", "device_id", deviceID, "ssid", req.SSID)
	s.record(ctx, log, attempt.ID, models.EventStarted, "attempt started", map[string]any{
		"device_id": deviceID,
		"ssid":      req.SSID,
	})

	out := s.exchange(ctx, log, req, attempt, watermark)

	// The outcome is journaled even when the caller went away.
	jctx := context.WithoutCancel(ctx)
	finished := s.now()
	if err := s.journal.Complete(jctx, attempt.ID, out, finished); err != nil {
		log.Errorw("attempt_finish_failed", "err", err)
	}
	s.record(jctx, log, attempt.ID, models.EventFinished, describeOutcome(out), map[string]any{
		"confirmed": out.Confirmed,
		"ip":        out.IP,
		"kind":      out.Kind,
		"reason":    out.Reason,
	})

	attempt.FinishedAt = finished
	attempt.IP, attempt.Reason, attempt.Kind = out.IP, out.Reason, out.Kind
	if out.Confirmed {
		attempt.Status = models.AttemptConfirmed
		tracer.SetOK(span)
	} else {
		attempt.Status = models.AttemptRejected
		span.SetAttributes(tracer.StringAttr("reject.kind", out.Kind))
	}
	log.Infow("attempt_finished", "status", attempt.Status, "ip", out.IP, "kind", out.Kind, "reason", out.Reason,
		"elapsed", finished.Sub(watermark))
	return attempt, nil
}

func (s *ProvisioningService) exchange(ctx context.Context, log *logger.Logger, req models.ProvisioningRequest, attempt models.Attempt, watermark time.Time) models.Outcome {
	sendCtx, sendSpan := tracer.StartSpan(ctx, "provision.send")
	res, err := s.radio.Channel.Send(sendCtx, req)
	if err != nil {
		tracer.RecordError(sendSpan, err)
		sendSpan.End()
		out := outcomeFromError(err)
		log.Infow("radio_failed", "kind", out.Kind, "err", err)
		s.record(ctx, log, attempt.ID, models.EventRadioResult, "radio exchange failed", map[string]any{
			"kind":  out.Kind,
			"error": err.Error(),
		})
		return out
	}
	sendSpan.SetAttributes(tracer.BoolAttr("ok", res.OK))
	sendSpan.End()

	s.record(ctx, log, attempt.ID, models.EventRadioResult, "radio exchange finished", map[string]any{
		"ok":     res.OK,
		"ip":     res.IP,
		"reason": res.Reason,
	})
	if res.IsNotifyTimeout() {
		s.record(ctx, log, attempt.ID, models.EventPolling, "no answer over bluetooth, polling backend reachability", map[string]any{
			"device_id": attempt.DeviceID,
		})
	}

	confirmCtx, confirmSpan := tracer.StartSpan(ctx, "provision.confirm")
	defer confirmSpan.End()
	out := s.radio.Confirm.Resolve(confirmCtx, res, attempt.DeviceID, watermark)
	confirmSpan.SetAttributes(tracer.BoolAttr("confirmed", out.Confirmed))
	return out
}

func (s *ProvisioningService) record(ctx context.Context, log *logger.Logger, attemptID, typ, desc string, meta map[string]any) {
	err := s.journal.Record(ctx, models.AttemptEvent{
		AttemptID:   attemptID,
		OccurredAt:  s.now(),
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil {
		log.Errorw("attempt_event_failed", "type", typ, "err", err)
	}
}

// outcomeFromError maps a radio failure to a rejection with a user-facing reason.
func outcomeFromError(err error) models.Outcome {
	if kind := ble.KindOf(err); kind != "" {
		msg, ok := radioFailureMessages[kind]
		if !ok {
			msg = err.Error()
		}
		return models.Rejected(string(kind), msg)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.Rejected(KindCancelled, "Provisioning was cancelled.")
	}
	return models.Rejected(string(ble.KindConnectionFailed), radioFailureMessages[ble.KindConnectionFailed])
}

func describeOutcome(out models.Outcome) string {
	switch {
	case out.Confirmed && out.IP != "":
		return "device joined the network at " + out.IP
	case out.Confirmed:
		return "device joined the network"
	}
	return "attempt rejected: " + out.Reason
}
