package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/models"
)

func newTestProvisioning(ch *stubChannel, conf *stubConfirmer) (*ProvisioningService, *fakeAttemptRepo, *fakeEventRepo) {
	attempts := newFakeAttemptRepo()
	events := &fakeEventRepo{}
	journal := NewJournalService(attempts, events, NewProgressHub())
	radio := Radio{
		Channel:  ch,
		Probe:    &stubProbe{},
		Confirm:  conf,
		Resolver: stubResolver{ids: map[string]string{"abc": "dev-42"}},
	}
	return NewProvisioningService(radio, journal, 5*time.Second, nil), attempts, events
}

func validRequest() models.ProvisioningRequest {
	return models.ProvisioningRequest{SSID: "home", Passphrase: "s3cret-pass", Code: " abc "}
}

func TestProvisioningService_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  models.ProvisioningRequest
		want error
	}{
		{name: "empty ssid", req: models.ProvisioningRequest{SSID: "  ", Code: "abc"}, want: ble.ErrEmptySSID},
		{name: "empty code", req: models.ProvisioningRequest{SSID: "home", Code: " "}, want: ble.ErrEmptyCode},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := &stubChannel{}
			svc, attempts, _ := newTestProvisioning(ch, &stubConfirmer{})
			_, err := svc.Provision(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if ch.calls != 0 {
				t.Errorf("radio must not be used, got %d sends", ch.calls)
			}
			if len(attempts.attempts) != 0 {
				t.Errorf("nothing must be journaled, got %d attempts", len(attempts.attempts))
			}
		})
	}
}

func TestProvisioningService_ConfirmedOverBLE(t *testing.T) {
	ch := &stubChannel{res: models.Succeeded("192.168.1.50")}
	conf := &stubConfirmer{out: models.Confirmed("192.168.1.50")}
	svc, attempts, events := newTestProvisioning(ch, conf)

	before := time.Now().UTC()
	got, err := svc.Provision(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Status != models.AttemptConfirmed || got.IP != "192.168.1.50" {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if got.Code != "abc" || got.DeviceID != "dev-42" {
		t.Errorf("code/device: got %q/%q", got.Code, got.DeviceID)
	}
	if ch.gotReq.Code != "abc" || ch.gotReq.Passphrase != "s3cret-pass" {
		t.Errorf("channel got %+v", ch.gotReq)
	}
	if conf.calls != 1 || conf.gotDeviceID != "dev-42" {
		t.Errorf("confirmer calls=%d device=%q", conf.calls, conf.gotDeviceID)
	}
	if conf.gotWatermark.Before(before) || !conf.gotWatermark.Equal(got.StartedAt) {
		t.Errorf("watermark %v must be the attempt start %v", conf.gotWatermark, got.StartedAt)
	}

	stored := attempts.get(got.ID)
	if stored.Status != models.AttemptConfirmed {
		t.Errorf("journal status: got %q", stored.Status)
	}

	want := []string{models.EventStarted, models.EventRadioResult, models.EventFinished}
	if gotTypes := events.types(); strings.Join(gotTypes, ",") != strings.Join(want, ",") {
		t.Errorf("events: got %v, want %v", gotTypes, want)
	}
	if svc.Busy() {
		t.Error("service must be idle after the attempt")
	}
}

func TestProvisioningService_NotifyTimeoutFallsBackToPolling(t *testing.T) {
	ch := &stubChannel{res: models.Failed(models.NotifyTimeoutReason)}
	conf := &stubConfirmer{out: models.Confirmed("10.1.1.1")}
	svc, _, events := newTestProvisioning(ch, conf)

	got, err := svc.Provision(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.AttemptConfirmed {
		t.Fatalf("expected confirmed via polling, got %+v", got)
	}
	if !conf.gotPrimary.IsNotifyTimeout() {
		t.Errorf("confirmer must see the notify timeout, got %+v", conf.gotPrimary)
	}

	want := []string{models.EventStarted, models.EventRadioResult, models.EventPolling, models.EventFinished}
	if gotTypes := events.types(); strings.Join(gotTypes, ",") != strings.Join(want, ",") {
		t.Errorf("events: got %v, want %v", gotTypes, want)
	}
}

func TestProvisioningService_DeviceRejection(t *testing.T) {
	ch := &stubChannel{res: models.Failed("wrong password")}
	conf := &stubConfirmer{out: models.Rejected(string(ble.KindDeviceReported), "Could not join Wi-Fi.")}
	svc, attempts, _ := newTestProvisioning(ch, conf)

	got, err := svc.Provision(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("rejections are not errors, got %v", err)
	}
	if got.Status != models.AttemptRejected || got.Kind != string(ble.KindDeviceReported) {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if attempts.get(got.ID).Reason != "Could not join Wi-Fi." {
		t.Errorf("journal reason: %q", attempts.get(got.ID).Reason)
	}
}

func TestProvisioningService_RadioErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind string
		wantMsg  string
	}{
		{
			name:     "permission denied",
			err:      &ble.Error{Kind: ble.KindPermissionDenied, Op: "preflight", Err: errors.New("adapter off")},
			wantKind: string(ble.KindPermissionDenied),
			wantMsg:  radioFailureMessages[ble.KindPermissionDenied],
		},
		{
			name:     "scan timeout",
			err:      ble.ErrScanTimeout,
			wantKind: string(ble.KindScanTimeout),
			wantMsg:  radioFailureMessages[ble.KindScanTimeout],
		},
		{
			name:     "discovery failed wrapped",
			err:      fmt.Errorf("send: %w", &ble.Error{Kind: ble.KindDiscoveryFailed, Op: "discover"}),
			wantKind: string(ble.KindDiscoveryFailed),
			wantMsg:  radioFailureMessages[ble.KindDiscoveryFailed],
		},
		{
			name:     "caller cancelled",
			err:      context.Canceled,
			wantKind: KindCancelled,
			wantMsg:  "Provisioning was cancelled.",
		},
		{
			name:     "unclassified error",
			err:      errors.New("boom"),
			wantKind: string(ble.KindConnectionFailed),
			wantMsg:  radioFailureMessages[ble.KindConnectionFailed],
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := &stubChannel{err: tt.err}
			conf := &stubConfirmer{}
			svc, _, events := newTestProvisioning(ch, conf)

			got, err := svc.Provision(context.Background(), validRequest())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != models.AttemptRejected {
				t.Fatalf("expected rejected, got %q", got.Status)
			}
			if got.Kind != tt.wantKind || got.Reason != tt.wantMsg {
				t.Errorf("got kind=%q reason=%q, want %q/%q", got.Kind, got.Reason, tt.wantKind, tt.wantMsg)
			}
			if conf.calls != 0 {
				t.Errorf("confirmer must not run after a radio error")
			}
			want := []string{models.EventStarted, models.EventRadioResult, models.EventFinished}
			if gotTypes := events.types(); strings.Join(gotTypes, ",") != strings.Join(want, ",") {
				t.Errorf("events: got %v, want %v", gotTypes, want)
			}
		})
	}
}

func TestProvisioningService_RejectsOverlappingAttempts(t *testing.T) {
	ch := &stubChannel{
		res:     models.Succeeded("10.0.0.3"),
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	svc, _, _ := newTestProvisioning(ch, &stubConfirmer{out: models.Confirmed("10.0.0.3")})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Provision(context.Background(), validRequest())
		done <- err
	}()
	<-ch.entered

	if _, err := svc.Provision(context.Background(), validRequest()); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}
	if _, err := svc.Available(context.Background(), "abc"); !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("availability probe must also be refused, got %v", err)
	}

	close(ch.release)
	if err := <-done; err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}
	if ch.calls != 1 {
		t.Errorf("expected a single send, got %d", ch.calls)
	}
}

func TestProvisioningService_CancelledAttemptIsStillJournaled(t *testing.T) {
	ch := &stubChannel{release: make(chan struct{}), entered: make(chan struct{})}
	svc, attempts, events := newTestProvisioning(ch, &stubConfirmer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.Attempt, 1)
	go func() {
		a, _ := svc.Provision(ctx, validRequest())
		done <- a
	}()
	<-ch.entered
	cancel()

	got := <-done
	if got.Kind != KindCancelled {
		t.Fatalf("expected cancelled attempt, got %+v", got)
	}
	if attempts.get(got.ID).Status != models.AttemptRejected {
		t.Errorf("journal must record the outcome, got %q", attempts.get(got.ID).Status)
	}
	types := events.types()
	if len(types) == 0 || types[len(types)-1] != models.EventFinished {
		t.Errorf("expected FINISHED as last event, got %v", types)
	}
}

func TestProvisioningService_BeginFailure(t *testing.T) {
	ch := &stubChannel{res: models.Succeeded("10.0.0.1")}
	svc, attempts, _ := newTestProvisioning(ch, &stubConfirmer{})
	attempts.createErr = errors.New("db locked")

	if _, err := svc.Provision(context.Background(), validRequest()); err == nil {
		t.Fatal("expected error when the attempt cannot be journaled")
	}
	if ch.calls != 0 {
		t.Error("radio must not be used when the journal is unavailable")
	}
	if svc.Busy() {
		t.Error("lock must be released")
	}
}

func TestProvisioningService_PassphraseNeverJournaled(t *testing.T) {
	for _, ch := range []*stubChannel{
		{res: models.Succeeded("10.0.0.1")},
		{res: models.Failed(models.NotifyTimeoutReason)},
		{err: errors.New("link lost")},
	} {
		svc, _, events := newTestProvisioning(ch, &stubConfirmer{out: models.Rejected(string(ble.KindPollTimeout), "no")})
		if _, err := svc.Provision(context.Background(), validRequest()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, e := range events.events {
			if strings.Contains(fmt.Sprintf("%v %v", e.Description, e.Metadata), "s3cret-pass") {
				t.Fatalf("passphrase leaked into event %+v", e)
			}
		}
	}
}

func TestProvisioningService_Available(t *testing.T) {
	probe := &stubProbe{available: true}
	svc := NewProvisioningService(Radio{Probe: probe}, nil, 3*time.Second, nil)

	ok, err := svc.Available(context.Background(), "  xyz ")
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	if probe.gotCode != "xyz" || probe.gotTimeout != 3*time.Second {
		t.Errorf("probe got code=%q timeout=%v", probe.gotCode, probe.gotTimeout)
	}

	if _, err := svc.Available(context.Background(), " "); !errors.Is(err, ble.ErrEmptyCode) {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
}

func Test_describeOutcome(t *testing.T) {
	cases := map[string]models.Outcome{
		"device joined the network at 1.2.3.4": models.Confirmed("1.2.3.4"),
		"device joined the network":            models.Confirmed(""),
		"attempt rejected: nope":               models.Rejected("X", "nope"),
	}
	for want, out := range cases {
		if got := describeOutcome(out); got != want {
			t.Errorf("describeOutcome(%+v) = %q, want %q", out, got, want)
		}
	}
}
