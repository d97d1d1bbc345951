package ble

import (
	"context"
	"encoding/base64"
	"sync"
	"time"
)

// fakeRadio replays a fixed advertisement sequence and hands out one fakeConn.
type fakeRadio struct {
	mu         sync.Mutex
	adverts    []Peripheral
	advertGap  time.Duration
	scanErr    error // reported through onError after the adverts
	startErr   error
	connectErr error
	conn       *fakeConn

	scans    int
	stops    int
	connects int
	onFound  func(Peripheral)
}

func (r *fakeRadio) StartScan(ctx context.Context, onFound func(Peripheral), onError func(error)) (func(), error) {
	r.mu.Lock()
	r.scans++
	r.onFound = onFound
	adverts := append([]Peripheral(nil), r.adverts...)
	gap, scanErr, startErr := r.advertGap, r.scanErr, r.startErr
	r.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	go func() {
		for _, p := range adverts {
			time.Sleep(gap)
			onFound(p)
		}
		if scanErr != nil {
			onError(scanErr)
		}
	}()
	return func() {
		r.mu.Lock()
		r.stops++
		r.mu.Unlock()
	}, nil
}

func (r *fakeRadio) Connect(ctx context.Context, p Peripheral) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.conn, nil
}

func (r *fakeRadio) counts() (scans, stops, connects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans, r.stops, r.connects
}

func (r *fakeRadio) lateFound(p Peripheral) {
	r.mu.Lock()
	f := r.onFound
	r.mu.Unlock()
	f(p)
}

// fakeConn answers a write with the queued notification values.
type fakeConn struct {
	mu           sync.Mutex
	mtuErr       error
	priorityErr  error
	discoverErr  error
	subscribeErr error
	writeErr     error
	replies      []string
	replyGap     time.Duration
	hang         string // step that blocks until its context ends: "discover", "subscribe" or "write"

	onValue     func(string, error)
	written     []string
	order       []string
	removes     int
	disconnects int
}

func (c *fakeConn) RequestMTU(ctx context.Context, mtu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, "mtu")
	return c.mtuErr
}

func (c *fakeConn) RequestHighPriority(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, "priority")
	return c.priorityErr
}

// stall records step and, when it is the hanging step, waits for ctx like a
// device that dropped off the air.
func (c *fakeConn) stall(ctx context.Context, step string) error {
	c.mu.Lock()
	c.order = append(c.order, step)
	hang := c.hang == step
	c.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeConn) DiscoverServices(ctx context.Context) error {
	if err := c.stall(ctx, "discover"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverErr
}

func (c *fakeConn) Subscribe(ctx context.Context, service, char string, onValue func(string, error)) (Subscription, error) {
	if err := c.stall(ctx, "subscribe"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.onValue = onValue
	return fakeSub{c}, nil
}

func (c *fakeConn) WriteWithResponse(ctx context.Context, service, char, value string) error {
	if err := c.stall(ctx, "write"); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, value)
	if c.writeErr != nil {
		c.mu.Unlock()
		return c.writeErr
	}
	replies, gap, onValue := append([]string(nil), c.replies...), c.replyGap, c.onValue
	c.mu.Unlock()

	go func() {
		for _, v := range replies {
			time.Sleep(gap)
			onValue(v, nil)
		}
	}()
	return nil
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = append(c.order, "disconnect")
	c.disconnects++
	return nil
}

func (c *fakeConn) snapshot() (order []string, removes, disconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...), c.removes, c.disconnects
}

type fakeSub struct{ c *fakeConn }

func (s fakeSub) Remove() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.removes++
	return nil
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func setupDevice(code string) Peripheral {
	return Peripheral{ID: "AA:BB:CC:DD:EE:FF", Name: "ESP32-Setup " + code, ServiceUUIDs: []string{ServiceUUID}}
}
