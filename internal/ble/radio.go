// Package ble implements the client side of the ESP32 Wi-Fi provisioning
// protocol: finding the device in setup mode, handing it credentials over a
// GATT write characteristic and waiting for its answer on a notify
// characteristic.
//
// The radio itself is abstracted behind Radio and Connection so the protocol
// logic can run against BlueZ (package bluez) or an in-memory fake.
package ble

import "context"

// Provisioning GATT topology exposed by the device firmware.
const (
	ServiceUUID    = "cb0f3a50-5b7d-11ee-8c99-0242ac120002"
	WriteCharUUID  = "cb0f3d56-5b7d-11ee-8c99-0242ac120002" // RX on the device, write with response
	NotifyCharUUID = "cb0f3f7a-5b7d-11ee-8c99-0242ac120002" // TX on the device, notify
)

// NamePrefix is how a device in setup mode starts its advertised name ("ESP32-Setup <code>").
const NamePrefix = "esp32-setup"

// Peripheral is a discovered advertiser. It only lives for one scan callback
// unless it is handed to Radio.Connect.
type Peripheral struct {
	ID           string   // radio address
	Name         string   // empty when the advertisement carried no name
	ServiceUUIDs []string // advertised service UUIDs
}

// Radio is an owned handle to a BLE adapter.
type Radio interface {
	// StartScan starts a duplicate-tolerant discovery. onFound and onError may
	// run on any goroutine until the returned stop function is called.
	StartScan(ctx context.Context, onFound func(Peripheral), onError func(error)) (stop func(), err error)
	// Connect opens a connection the caller owns and must Disconnect.
	Connect(ctx context.Context, p Peripheral) (Connection, error)
}

// Connection is one open link to a peripheral. Characteristic values cross
// this boundary as base64 text.
type Connection interface {
	RequestMTU(ctx context.Context, mtu int) error
	RequestHighPriority(ctx context.Context) error
	DiscoverServices(ctx context.Context) error
	Subscribe(ctx context.Context, service, char string, onValue func(value string, err error)) (Subscription, error)
	WriteWithResponse(ctx context.Context, service, char, value string) error
	Disconnect(ctx context.Context) error
}

// Subscription is an active notification stream.
type Subscription interface {
	Remove() error
}

// Permissions is the platform preflight that must pass before any scan.
type Permissions interface {
	Preflight(ctx context.Context) error
}

// PermissionsFunc adapts a function to Permissions.
type PermissionsFunc func(ctx context.Context) error

func (f PermissionsFunc) Preflight(ctx context.Context) error { return f(ctx) }

// SkipPreflight is used on platforms that need no radio permission.
var SkipPreflight Permissions = PermissionsFunc(func(context.Context) error { return nil })
