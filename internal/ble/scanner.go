package ble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wifi_provisioner/internal/logger"
)

type scanOutcome struct {
	peripheral Peripheral
	err        error
}

// Scanner finds the peripheral that is in setup mode for a device code.
type Scanner struct {
	radio Radio
	perms Permissions
	log   *logger.Logger
}

func NewScanner(radio Radio, perms Permissions, log *logger.Logger) *Scanner {
	if perms == nil {
		perms = SkipPreflight
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{radio: radio, perms: perms, log: log}
}

// Scan runs discovery until the first advertisement that Matches code, or
// until timeout. The underlying scan is stopped exactly once on whichever
// path settles.
func (s *Scanner) Scan(ctx context.Context, code string, timeout time.Duration) (Peripheral, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Peripheral{}, ErrEmptyCode
	}
	if err := s.perms.Preflight(ctx); err != nil {
		return Peripheral{}, newError(KindPermissionDenied, "preflight", err)
	}

	settler := NewSettler[scanOutcome]()
	settler.Arm(timeout, scanOutcome{
		err: newError(KindScanTimeout, "scan", fmt.Errorf("no device in setup mode for code %q within %s", code, timeout)),
	})

	onFound := func(p Peripheral) {
		if settler.Settled() || !Matches(p, code) {
			return
		}
		if settler.Settle(scanOutcome{peripheral: p}) {
			s.log.Infow("scan_matched", "code", code, "peripheral", p.ID, "name", p.Name)
		}
	}
	onError := func(err error) {
		settler.Settle(scanOutcome{err: newError(KindConnectionFailed, "scan", err)})
	}

	s.log.Debugw("scan_started", "code", code, "timeout", timeout)
	stop, err := s.radio.StartScan(ctx, onFound, onError)
	if err != nil {
		settler.Settle(scanOutcome{err: newError(KindConnectionFailed, "start scan", err)})
		out, _ := settler.Result()
		return Peripheral{}, out.err
	}
	settler.OnSettle(stop)

	out, err := settler.Wait(ctx)
	if err != nil {
		settler.Settle(scanOutcome{err: err})
		return Peripheral{}, fmt.Errorf("scan: %w", err)
	}
	if out.err != nil {
		s.log.Infow("scan_failed", "code", code, "err", out.err)
		return Peripheral{}, out.err
	}
	return out.peripheral, nil
}

// IsAvailable is Scan reduced to a yes/no answer, used as a pre-flight check
// before asking the operator for credentials.
func (s *Scanner) IsAvailable(ctx context.Context, code string, timeout time.Duration) bool {
	_, err := s.Scan(ctx, code, timeout)
	return err == nil
}
