package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wifi_provisioner/internal/logger"
	"wifi_provisioner/internal/models"
)

const (
	disconnectTimeout      = 5 * time.Second
	defaultDiscoverTimeout = 10 * time.Second
	defaultGATTTimeout     = 5 * time.Second
)

// ChannelOptions tunes one provisioning exchange. Zero DiscoverTimeout and
// GATTTimeout fall back to package defaults.
type ChannelOptions struct {
	ScanTimeout     time.Duration
	NotifyTimeout   time.Duration
	DiscoverTimeout time.Duration // service resolution after connect
	GATTTimeout     time.Duration // each of link negotiation, subscribe and write
	NegotiateLink   bool          // raise MTU and connection priority, best effort
	MTU             int
}

// Channel runs a complete credential exchange with one device.
type Channel struct {
	scanner *Scanner
	radio   Radio
	opts    ChannelOptions
	log     *logger.Logger
}

func NewChannel(scanner *Scanner, radio Radio, opts ChannelOptions, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Nop()
	}
	if opts.DiscoverTimeout <= 0 {
		opts.DiscoverTimeout = defaultDiscoverTimeout
	}
	if opts.GATTTimeout <= 0 {
		opts.GATTTimeout = defaultGATTTimeout
	}
	return &Channel{scanner: scanner, radio: radio, opts: opts, log: log}
}

// Send scans for the device, connects, subscribes to the notify
// characteristic, writes the credentials and waits for the device's answer.
//
// Device answers (ok or not) and the notify deadline come back as a
// ProvisioningResult; everything else is a typed *Error. Exactly one
// connection is opened and closed per call.
func (c *Channel) Send(ctx context.Context, req models.ProvisioningRequest) (models.ProvisioningResult, error) {
	if strings.TrimSpace(req.SSID) == "" {
		return models.ProvisioningResult{}, ErrEmptySSID
	}
	if strings.TrimSpace(req.Code) == "" {
		return models.ProvisioningResult{}, ErrEmptyCode
	}

	p, err := c.scanner.Scan(ctx, req.Code, c.opts.ScanTimeout)
	if err != nil {
		return models.ProvisioningResult{}, err
	}

	conn, err := c.radio.Connect(ctx, p)
	if err != nil {
		return models.ProvisioningResult{}, newError(KindConnectionFailed, "connect", err)
	}
	defer c.release(conn, p)

	if c.opts.NegotiateLink {
		c.negotiate(ctx, conn)
	}

	if err := bounded(ctx, c.opts.DiscoverTimeout, conn.DiscoverServices); err != nil {
		return models.ProvisioningResult{}, newError(KindDiscoveryFailed, "discover", err)
	}

	settler := NewSettler[models.ProvisioningResult]()
	var sub Subscription
	err = bounded(ctx, c.opts.GATTTimeout, func(ctx context.Context) error {
		var err error
		sub, err = conn.Subscribe(ctx, ServiceUUID, NotifyCharUUID, func(value string, err error) {
			if err != nil || value == "" {
				return
			}
			res, ok := DecodeResponse(value)
			if !ok {
				c.log.Debugw("notify_ignored", "peripheral", p.ID)
				return
			}
			settler.Settle(res)
		})
		return err
	})
	if err != nil {
		return models.ProvisioningResult{}, newError(KindConnectionFailed, "subscribe", err)
	}
	settler.OnSettle(func() {
		if err := sub.Remove(); err != nil {
			c.log.Debugw("notify_unsubscribe_failed", "peripheral", p.ID, "err", err)
		}
	})
	settler.Arm(c.opts.NotifyTimeout, models.Failed(models.NotifyTimeoutReason))

	payload, err := EncodeRequest(req)
	if err != nil {
		settler.Settle(models.Failed(err.Error()))
		return models.ProvisioningResult{}, err
	}
	err = bounded(ctx, c.opts.GATTTimeout, func(ctx context.Context) error {
		return conn.WriteWithResponse(ctx, ServiceUUID, WriteCharUUID, payload)
	})
	if err != nil {
		settler.Settle(models.Failed("write failed"))
		return models.ProvisioningResult{}, newError(KindConnectionFailed, "write", err)
	}
	c.log.Debugw("credentials_written", "peripheral", p.ID, "ssid", req.SSID)

	res, err := settler.Wait(ctx)
	if err != nil {
		settler.Settle(models.Failed("cancelled"))
		return models.ProvisioningResult{}, fmt.Errorf("await device response: %w", err)
	}
	if settler.TimedOut() {
		c.log.Infow("notify_timeout", "peripheral", p.ID, "after", c.opts.NotifyTimeout)
	}
	return res, nil
}

// negotiate raises link parameters. Failures only cost throughput and are dropped.
func (c *Channel) negotiate(ctx context.Context, conn Connection) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.GATTTimeout)
	defer cancel()
	if err := conn.RequestMTU(ctx, c.opts.MTU); err != nil {
		c.log.Debugw("mtu_request_failed", "mtu", c.opts.MTU, "err", err)
	}
	if err := conn.RequestHighPriority(ctx); err != nil {
		c.log.Debugw("priority_request_failed", "err", err)
	}
}

// release disconnects with its own deadline so a cancelled caller context
// cannot leave the link open.
func (c *Channel) release(conn Connection, p Peripheral) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Infow("disconnect_failed", "peripheral", p.ID, "err", err)
	}
}

// bounded runs one radio step under its own deadline.
func bounded(ctx context.Context, d time.Duration, step func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return step(ctx)
}
