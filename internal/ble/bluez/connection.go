package bluez

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"wifi_provisioner/internal/ble"

	"github.com/godbus/dbus/v5"
)

type connection struct {
	radio   *Radio
	address string
	path    dbus.ObjectPath

	mu    sync.Mutex
	chars map[string]dbus.ObjectPath
}

// RequestMTU only reports: BlueZ negotiates the ATT MTU itself on connect.
func (c *connection) RequestMTU(ctx context.Context, mtu int) error {
	got, err := getProperty[uint16](c.radio.conn, c.path, device1, "MTU")
	if err != nil {
		return fmt.Errorf("read mtu: %w", err)
	}
	if int(got) < mtu {
		return fmt.Errorf("negotiated mtu %d below requested %d", got, mtu)
	}
	return nil
}

func (c *connection) RequestHighPriority(ctx context.Context) error {
	return errUnsupported
}

// DiscoverServices waits for ServicesResolved and indexes the characteristics.
func (c *connection) DiscoverServices(ctx context.Context) error {
	ticker := time.NewTicker(resolvePollInterval)
	defer ticker.Stop()
	for {
		resolved, err := getProperty[bool](c.radio.conn, c.path, device1, "ServicesResolved")
		if err == nil && resolved {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("services not resolved: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	objects, err := c.radio.managedObjects()
	if err != nil {
		return err
	}
	chars := characteristicPaths(objects, c.path)
	for _, uuid := range []string{ble.WriteCharUUID, ble.NotifyCharUUID} {
		if _, ok := chars[uuid]; !ok {
			return fmt.Errorf("characteristic %s not found on %s", uuid, c.address)
		}
	}

	c.mu.Lock()
	c.chars = chars
	c.mu.Unlock()
	return nil
}

func (c *connection) charPath(char string) (dbus.ObjectPath, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.chars[strings.ToLower(char)]
	if !ok {
		return "", fmt.Errorf("characteristic %s not discovered", char)
	}
	return path, nil
}

// Subscribe enables notifications and forwards each Value update base64 encoded.
func (c *connection) Subscribe(ctx context.Context, service, char string, onValue func(string, error)) (ble.Subscription, error) {
	path, err := c.charPath(char)
	if err != nil {
		return nil, err
	}

	rule := fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'", bluezBus, dbusProperties, path)
	if err := c.radio.addMatch(rule); err != nil {
		return nil, err
	}
	sigCh := make(chan *dbus.Signal, 16)
	c.radio.conn.Signal(sigCh)

	obj := c.radio.conn.Object(bluezBus, path)
	if call := obj.CallWithContext(ctx, gattChar1+".StartNotify", 0); call.Err != nil {
		c.radio.conn.RemoveSignal(sigCh)
		c.radio.removeMatches([]string{rule})
		return nil, fmt.Errorf("start notify: %w", call.Err)
	}

	sub := &subscription{stop: make(chan struct{})}
	sub.remove = func() error {
		close(sub.stop)
		c.radio.conn.RemoveSignal(sigCh)
		c.radio.removeMatches([]string{rule})
		if call := obj.Call(gattChar1+".StopNotify", 0); call.Err != nil {
			return fmt.Errorf("stop notify: %w", call.Err)
		}
		return nil
	}

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if b, ok := notifiedValue(sig, path); ok {
					onValue(base64.StdEncoding.EncodeToString(b), nil)
				}
			}
		}
	}()
	return sub, nil
}

// WriteWithResponse performs an acknowledged ATT write of the decoded value.
func (c *connection) WriteWithResponse(ctx context.Context, service, char, value string) error {
	path, err := c.charPath(char)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	if call := c.radio.conn.Object(bluezBus, path).CallWithContext(ctx, gattChar1+".WriteValue", 0, data, opts); call.Err != nil {
		return fmt.Errorf("write value: %w", call.Err)
	}
	return nil
}

func (c *connection) Disconnect(ctx context.Context) error {
	if call := c.radio.conn.Object(bluezBus, c.path).CallWithContext(ctx, device1+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("disconnect %s: %w", c.address, call.Err)
	}
	c.radio.log.Debugw("device_disconnected", "address", c.address)
	return nil
}

type subscription struct {
	once   sync.Once
	stop   chan struct{}
	remove func() error
	err    error
}

func (s *subscription) Remove() error {
	s.once.Do(func() { s.err = s.remove() })
	return s.err
}
