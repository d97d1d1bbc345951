// Package confirm turns the result of a radio exchange into a final verdict,
// falling back to the backend's reachability view when the radio answer was
// lost.
package confirm

import (
	"context"
	"time"

	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"
)

// StateReader is the backend's reachability view of a device.
type StateReader interface {
	State(ctx context.Context, deviceID string) (models.ReachabilityState, error)
}

type Options struct {
	PollInterval       time.Duration
	PollDeadline       time.Duration
	CredentialKeywords []string
	WifiFailureMessage string
}

// Arbiter resolves a ProvisioningResult into a models.Outcome.
type Arbiter struct {
	states     StateReader
	opts       Options
	classifier Classifier
	log        *logger.Logger
}

func NewArbiter(states StateReader, opts Options, log *logger.Logger) *Arbiter {
	if log == nil {
		log = logger.Nop()
	}
	return &Arbiter{
		states:     states,
		opts:       opts,
		classifier: NewClassifier(opts.CredentialKeywords),
		log:        log.Named("confirm"),
	}
}

// Resolve applies the decision table:
//
//	Ok{ip}                      -> Confirmed{ip}, no polling
//	Failed{"notify timeout"}    -> poll reachability until accepted or deadline
//	Failed{credential reason}   -> Rejected{normalized Wi-Fi message}
//	Failed{other reason}        -> Rejected{reason as reported}
//
// A zero watermark accepts any online observation with an address.
func (a *Arbiter) Resolve(ctx context.Context, primary models.ProvisioningResult, deviceID string, watermark time.Time) models.Outcome {
	switch {
	case primary.OK:
		return models.Confirmed(primary.IP)
	case primary.IsNotifyTimeout():
		return a.poll(ctx, deviceID, watermark)
	case a.classifier.IsCredentialFailure(primary.Reason):
		return models.Rejected(string(ble.KindDeviceReported), a.opts.WifiFailureMessage)
	default:
		a.log.Infow("device_reason_unclassified", "device_id", deviceID, "reason", primary.Reason)
		return models.Rejected(string(ble.KindDeviceReported), primary.Reason)
	}
}

func (a *Arbiter) poll(ctx context.Context, deviceID string, watermark time.Time) models.Outcome {
	ctx, cancel := context.WithTimeout(ctx, a.opts.PollDeadline)
	defer cancel()

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	a.log.Infow("fallback_polling_started", "device_id", deviceID, "deadline", a.opts.PollDeadline)
	for n := 1; ; n++ {
		st, err := a.states.State(ctx, deviceID)
		switch {
		case err != nil:
			a.log.Debugw("reachability_poll_failed", "device_id", deviceID, "poll", n, "err", err)
		case Accept(st, watermark):
			a.log.Infow("fallback_confirmed", "device_id", deviceID, "poll", n, "ip", *st.IP)
			return models.Confirmed(*st.IP)
		}

		select {
		case <-ctx.Done():
			a.log.Infow("fallback_exhausted", "device_id", deviceID, "polls", n, "err", ctx.Err())
			return models.Rejected(string(ble.KindPollTimeout), a.opts.WifiFailureMessage)
		case <-ticker.C:
		}
	}
}

// Accept reports whether an observation proves the device joined the network
// during this session.
func Accept(st models.ReachabilityState, watermark time.Time) bool {
	if !st.Online || !st.HasIP() {
		return false
	}
	if watermark.IsZero() {
		return true
	}
	return st.LastSeenEpochMs != nil && *st.LastSeenEpochMs > watermark.UnixMilli()
}
