package ble

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"wifi_provisioner/internal/models"
)

const defaultDeviceFailure = "device reported failure"

type requestEnvelope struct {
	SSID string `json:"ssid"`
	Pass string `json:"pass"`
	Code string `json:"code"`
}

// EncodeRequest renders the credential envelope as base64 of compact UTF-8 JSON.
func EncodeRequest(req models.ProvisioningRequest) (string, error) {
	b, err := json.Marshal(requestEnvelope{SSID: req.SSID, Pass: req.Passphrase, Code: req.Code})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeResponse parses a notification value. ok is false for anything that is
// not base64 JSON with a boolean "ok" field; such values are not answers.
func DecodeResponse(value string) (res models.ProvisioningResult, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return models.ProvisioningResult{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.ProvisioningResult{}, false
	}
	okRaw, present := fields["ok"]
	if !present {
		return models.ProvisioningResult{}, false
	}
	var okVal bool
	if err := json.Unmarshal(okRaw, &okVal); err != nil || string(okRaw) == "null" {
		return models.ProvisioningResult{}, false
	}

	if okVal {
		return models.Succeeded(optionalString(fields["ip"])), true
	}
	reason := optionalString(fields["error"])
	if reason == "" {
		reason = defaultDeviceFailure
	}
	return models.Failed(reason), true
}

// optionalString reads a JSON string, treating any other shape as absent.
func optionalString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
