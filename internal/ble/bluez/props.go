package bluez

import (
	"strings"

	"wifi_provisioner/internal/ble"

	"github.com/godbus/dbus/v5"
)

// peripheralFromProps builds an advertisement view from Device1 properties.
// Alias is ignored: BlueZ fills it with the address when no name was seen.
func peripheralFromProps(props map[string]dbus.Variant) (ble.Peripheral, bool) {
	address, ok := variantString(props["Address"])
	if !ok || address == "" {
		return ble.Peripheral{}, false
	}
	p := ble.Peripheral{ID: address}
	p.Name, _ = variantString(props["Name"])
	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			for _, u := range uuids {
				p.ServiceUUIDs = append(p.ServiceUUIDs, strings.ToLower(u))
			}
		}
	}
	return p, true
}

// characteristicPaths indexes the GATT characteristics below device by
// lower-case UUID.
func characteristicPaths(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, device dbus.ObjectPath) map[string]dbus.ObjectPath {
	out := make(map[string]dbus.ObjectPath)
	for path, ifaces := range objects {
		props, ok := ifaces[gattChar1]
		if !ok || !underAdapter(path, device) {
			continue
		}
		if uuid, ok := variantString(props["UUID"]); ok {
			out[strings.ToLower(uuid)] = path
		}
	}
	return out
}

func interfacesAdded(sig *dbus.Signal) (dbus.ObjectPath, map[string]map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", nil, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	return path, ifaces, ok
}

func propertiesChanged(sig *dbus.Signal) (string, map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	return iface, changed, ok
}

// notifiedValue extracts a characteristic Value update for path.
func notifiedValue(sig *dbus.Signal, path dbus.ObjectPath) ([]byte, bool) {
	if sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" {
		return nil, false
	}
	iface, changed, ok := propertiesChanged(sig)
	if !ok || iface != gattChar1 {
		return nil, false
	}
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	b, ok := v.Value().([]byte)
	return b, ok
}

func variantString(v dbus.Variant) (string, bool) {
	if v.Value() == nil {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}
