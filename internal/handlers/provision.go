package handlers

import (
	"errors"
	"net/http"
	"strings"

	"wifi_provisioner/internal/ble"
	"wifi_provisioner/internal/models"
	"wifi_provisioner/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK        = "ok"
	statusConfirmed = "confirmed"
	statusRejected  = "rejected"

	errGetStatus       = "failed to load gateway status"
	errProbe           = "failed to probe device"
	errProvision       = "failed to run provisioning attempt"
	errInvalidBodyPref = "invalid body: "
)

// logAndJSONError logs err under logKey and answers with userMsg.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// provisionError writes the response for errors that kept an attempt from
// running. It returns false when err is not one of them.
func (h *Handler) provisionError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, ble.ErrEmptySSID), errors.Is(err, ble.ErrEmptyCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAttemptInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		return false
	}
	return true
}

// ProvisionRequest is the payload of POST /api/v1/provision.
type ProvisionRequest struct {
	// Network name
	SSID string `json:"ssid" binding:"required" example:"home-2g"`
	// Network passphrase, never stored
	Pass string `json:"pass" example:"correct horse"`
	// Setup code shown by the device
	Code string `json:"code" binding:"required" example:"a1b2"`
}

// ProvisionResponse reports the finished attempt.
type ProvisionResponse struct {
	Status  string         `json:"status" example:"confirmed"`
	Attempt models.Attempt `json:"attempt"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Gateway status
// @Description  Whether the radio is busy and the most recent attempt
// @Tags         provision
// @Produce      json
// @Success      200  {object}  service.GatewayStatus
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.services.Monitoring.GetStatus(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetStatus, "status_get_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Check device availability
// @Description  Short scan for a device advertising in setup mode with this code
// @Tags         provision
// @Produce      json
// @Param        code  path  string  true  "Device code"
// @Success      200   {object}  map[string]interface{}  "code, available"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/provision/available/{code} [get]
// @Security     BearerAuth
func (h *Handler) checkAvailable(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	ok, err := h.services.Available(c.Request.Context(), code)
	if err != nil {
		if h.provisionError(c, err) {
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errProbe, "provision_probe_failed", err, "code", code)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "available": ok})
}

// @Summary      Provision a device
// @Description  Sends Wi-Fi credentials over BLE and waits for confirmation. A rejected attempt is still 200 with status=rejected.
// @Tags         provision
// @Accept       json
// @Produce      json
// @Param        body  body   ProvisionRequest  true  "Credentials"
// @Success      200   {object}  ProvisionResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/provision [post]
// @Security     BearerAuth
func (h *Handler) provision(c *gin.Context) {
	var req ProvisionRequest
	if ok := h.bindJSONOrBadRequest(c, &req, "provision_bad_request_body"); !ok {
		return
	}

	attempt, err := h.services.Provision(c.Request.Context(), models.ProvisioningRequest{
		SSID:       req.SSID,
		Passphrase: req.Pass,
		Code:       req.Code,
	})
	if err != nil {
		if h.provisionError(c, err) {
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errProvision, "provision_failed", err,
			"code", req.Code, "operator_id", operatorID(c))
		return
	}

	status := statusRejected
	if attempt.Status == models.AttemptConfirmed {
		status = statusConfirmed
	}
	if h.log != nil {
		h.log.Infow("provision_done", "attempt_id", attempt.ID, "status", status, "operator_id", operatorID(c))
	}
	c.JSON(http.StatusOK, ProvisionResponse{Status: status, Attempt: attempt})
}
