package ble

import "strings"

// Matches reports whether p is the provisioning target for the given device code.
//
// An exact name match wins: the trimmed, lower-cased name equals
// "esp32-setup " followed by the trimmed, lower-cased code. Devices that truncate or suffix their name still match when
// they advertise the provisioning service and their name starts with the
// setup prefix. A peripheral without a name never matches.
func Matches(p Peripheral, code string) bool {
	name := normalize(p.Name)
	if name == "" {
		return false
	}
	if name == NamePrefix+" "+normalize(code) {
		return true
	}
	return advertisesService(p) && strings.HasPrefix(name, NamePrefix)
}

func advertisesService(p Peripheral) bool {
	for _, u := range p.ServiceUUIDs {
		if strings.EqualFold(strings.TrimSpace(u), ServiceUUID) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
