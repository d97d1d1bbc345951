// Package bluez implements the radio interfaces of package ble on top of the
// BlueZ D-Bus API (org.bluez Adapter1, Device1 and GattCharacteristic1).
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/logger"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus          = "org.bluez"
	adapter1          = "org.bluez.Adapter1"
	device1           = "org.bluez.Device1"
	gattChar1         = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	resolvePollInterval = 200 * time.Millisecond
)

var (
	errAdapterOff  = errors.New("bluetooth adapter is powered off")
	errUnsupported = errors.New("not supported by bluez")
)

// Radio is a ble.Radio and ble.Permissions bound to one local adapter.
type Radio struct {
	conn           *dbus.Conn
	adapter        string
	adapterPath    dbus.ObjectPath
	connectTimeout time.Duration
	log            *logger.Logger
}

// New opens a private system bus connection for adapter (for example "hci0").
func New(adapter string, connectTimeout time.Duration, log *logger.Logger) (*Radio, error) {
	if log == nil {
		log = logger.Nop()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &Radio{
		conn:           conn,
		adapter:        adapter,
		adapterPath:    adapterPath(adapter),
		connectTimeout: connectTimeout,
		log:            log.Named("bluez"),
	}, nil
}

func (r *Radio) Close() error {
	return r.conn.Close()
}

// Preflight fails unless the adapter exists and is powered.
func (r *Radio) Preflight(ctx context.Context) error {
	powered, err := getProperty[bool](r.conn, r.adapterPath, adapter1, "Powered")
	if err != nil {
		return fmt.Errorf("adapter %s: %w", r.adapter, err)
	}
	if !powered {
		return fmt.Errorf("adapter %s: %w", r.adapter, errAdapterOff)
	}
	return nil
}

// StartScan starts LE discovery with duplicate reporting on. Devices already
// known to BlueZ are reported first. The returned stop func is idempotent.
func (r *Radio) StartScan(ctx context.Context, onFound func(ble.Peripheral), onError func(error)) (func(), error) {
	adapter := r.conn.Object(bluezBus, r.adapterPath)

	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(true),
	}
	if call := adapter.CallWithContext(ctx, adapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, fmt.Errorf("set discovery filter: %w", call.Err)
	}

	rules := []string{
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesAdded'", bluezBus, dbusObjectManager),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'", bluezBus, dbusProperties, r.adapterPath),
	}
	for _, rule := range rules {
		if err := r.addMatch(rule); err != nil {
			r.removeMatches(rules)
			return nil, err
		}
	}
	sigCh := make(chan *dbus.Signal, 64)
	r.conn.Signal(sigCh)

	if call := adapter.CallWithContext(ctx, adapter1+".StartDiscovery", 0); call.Err != nil {
		r.conn.RemoveSignal(sigCh)
		r.removeMatches(rules)
		return nil, fmt.Errorf("start discovery: %w", call.Err)
	}

	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopCh)
			r.conn.RemoveSignal(sigCh)
			if call := adapter.Call(adapter1+".StopDiscovery", 0); call.Err != nil {
				r.log.Debugw("stop_discovery_failed", "adapter", r.adapter, "err", call.Err)
			}
			r.removeMatches(rules)
		})
	}

	go func() {
		objects, err := r.managedObjects()
		if err != nil {
			onError(err)
			return
		}
		for path, ifaces := range objects {
			if props, ok := ifaces[device1]; ok && underAdapter(path, r.adapterPath) {
				if p, ok := peripheralFromProps(props); ok {
					onFound(p)
				}
			}
		}

		for {
			select {
			case <-stopCh:
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				r.dispatchScanSignal(sig, onFound, onError)
			}
		}
	}()
	return stop, nil
}

func (r *Radio) dispatchScanSignal(sig *dbus.Signal, onFound func(ble.Peripheral), onError func(error)) {
	switch sig.Name {
	case dbusObjectManager + ".InterfacesAdded":
		path, ifaces, ok := interfacesAdded(sig)
		if !ok || !underAdapter(path, r.adapterPath) {
			return
		}
		if props, ok := ifaces[device1]; ok {
			if p, ok := peripheralFromProps(props); ok {
				onFound(p)
			}
		}

	case dbusProperties + ".PropertiesChanged":
		iface, changed, ok := propertiesChanged(sig)
		if !ok {
			return
		}
		switch {
		case iface == adapter1 && sig.Path == r.adapterPath:
			if powered, ok := changed["Powered"]; ok && powered.Value() == false {
				onError(errAdapterOff)
			}
		case iface == device1 && underAdapter(sig.Path, r.adapterPath):
			props, err := r.deviceProps(sig.Path)
			if err != nil {
				return
			}
			if p, ok := peripheralFromProps(props); ok {
				onFound(p)
			}
		}
	}
}

// Connect opens a link to p. p.ID is the device address.
func (r *Radio) Connect(ctx context.Context, p ble.Peripheral) (ble.Connection, error) {
	path := devicePath(r.adapter, p.ID)
	ctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	if call := r.conn.Object(bluezBus, path).CallWithContext(ctx, device1+".Connect", 0); call.Err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.ID, call.Err)
	}
	r.log.Debugw("device_connected", "address", p.ID)
	return &connection{radio: r, address: p.ID, path: path}, nil
}

func (r *Radio) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := r.conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("get managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}
	return objects, nil
}

func (r *Radio) deviceProps(path dbus.ObjectPath) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	call := r.conn.Object(bluezBus, path).Call(dbusProperties+".GetAll", 0, device1)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&props); err != nil {
		return nil, err
	}
	return props, nil
}

func (r *Radio) addMatch(rule string) error {
	if call := r.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return fmt.Errorf("add signal match: %w", call.Err)
	}
	return nil
}

func (r *Radio) removeMatches(rules []string) {
	for _, rule := range rules {
		r.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
}

// getProperty reads one typed property of a BlueZ object.
func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	v, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, v.Value())
	}
	return val, nil
}

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// devicePath maps "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

func underAdapter(path, adapter dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(adapter)+"/")
}

var (
	_ ble.Radio       = (*Radio)(nil)
	_ ble.Permissions = (*Radio)(nil)
)
