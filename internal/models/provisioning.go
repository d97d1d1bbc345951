package models

import "strings"

// NotifyTimeoutReason marks a radio exchange that ended without any device answer.
const NotifyTimeoutReason = "notify timeout"

// ProvisioningRequest carries one set of Wi-Fi credentials for one device.
type ProvisioningRequest struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"-"`
	Code       string `json:"code"`
}

// ProvisioningResult is what a single BLE exchange produced: Ok{ip} or Failed{reason}.
type ProvisioningResult struct {
	OK     bool   `json:"ok"`
	IP     string `json:"ip,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Succeeded builds an Ok result.
func Succeeded(ip string) ProvisioningResult {
	return ProvisioningResult{OK: true, IP: ip}
}

// Failed builds a Failed result with the given reason.
func Failed(reason string) ProvisioningResult {
	return ProvisioningResult{OK: false, Reason: reason}
}

// IsNotifyTimeout reports whether the exchange settled on the deadline rather than on a device answer.
func (r ProvisioningResult) IsNotifyTimeout() bool {
	return !r.OK && r.Reason == NotifyTimeoutReason
}

// ReachabilityState is the backend's view of a device.
type ReachabilityState struct {
	Online          bool    `json:"online"`
	IP              *string `json:"ip,omitempty"`
	LastSeenEpochMs *int64  `json:"lastSeen,omitempty"`
}

// HasIP reports whether the backend knows a non-empty address for the device.
func (s ReachabilityState) HasIP() bool {
	return s.IP != nil && strings.TrimSpace(*s.IP) != ""
}

// Outcome is the final verdict of an attempt: Confirmed{ip} or Rejected{reason}.
type Outcome struct {
	Confirmed bool   `json:"confirmed"`
	IP        string `json:"ip,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Kind      string `json:"kind,omitempty"` // failure kind, empty when confirmed
}

// Confirmed builds a positive outcome.
func Confirmed(ip string) Outcome {
	return Outcome{Confirmed: true, IP: ip}
}

// Rejected builds a negative outcome with a user-facing reason.
func Rejected(kind, reason string) Outcome {
	return Outcome{Confirmed: false, Kind: kind, Reason: reason}
}
