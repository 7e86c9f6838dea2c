// Device HTTP handlers.
//
// This file exposes push-device registration endpoints:
//   - POST   /devices       (register or refresh a device)
//   - GET    /devices       (list active devices)
//   - DELETE /devices/{id}  (unregister)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/services"
)

// RegisterDeviceRequest is the JSON payload for registering a push device.
type RegisterDeviceRequest struct {
	// DeviceID is the client-generated stable device identifier; required.
	DeviceID string `json:"device_id" binding:"required,min=1,max=128" example:"a3f1c2d4-5678"`
	// PushToken is the APNs/FCM token for this installation.
	PushToken string `json:"push_token" example:"fcm:dGhlIHRva2Vu"`
	// Platform must be "ios" or "android".
	Platform string `json:"platform" binding:"required" example:"ios"`
	// DeviceName is an optional human-readable label.
	DeviceName string `json:"device_name" example:"Maria's iPhone"`
	// AppVersion is the installed app version.
	AppVersion string `json:"app_version" example:"2.4.1"`
	// OSVersion is the device OS version.
	OSVersion string `json:"os_version" example:"17.5"`
}

// ListDevicesResponse wraps the user's active devices.
type ListDevicesResponse struct {
	Devices []domain.Device `json:"devices"`
	Total   int             `json:"total"`
}

// RegisterDevice godoc
// @ID          registerDevice
// @Summary     Register a push device
// @Description Registers a device for push delivery, or refreshes the token and metadata
// @Description when the device is already known (also reactivating it).
// @Tags        Devices
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.RegisterDeviceRequest  true  "Device payload"
//
// @Success     200  {object}  domain.Device
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /devices [post]
func (h *Handlers) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_id and platform are required")
		return
	}

	d, err := h.devSvc.Register(c.Request.Context(), userID(c), services.RegisterDeviceInput{
		DeviceID:   req.DeviceID,
		PushToken:  req.PushToken,
		Platform:   req.Platform,
		DeviceName: req.DeviceName,
		AppVersion: req.AppVersion,
		OSVersion:  req.OSVersion,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyDeviceID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_id required")
		case errors.Is(err, services.ErrInvalidPlatform):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform must be ios or android")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, d)
}

// ListDevices godoc
// @ID          listDevices
// @Summary     List push devices
// @Description Returns the user's active devices, most recently used first.
// @Tags        Devices
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  handlers.ListDevicesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /devices [get]
func (h *Handlers) ListDevices(c *gin.Context) {
	items, err := h.devSvc.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDevicesResponse{Devices: items, Total: len(items)})
}

// UnregisterDevice godoc
// @ID          unregisterDevice
// @Summary     Unregister a push device
// @Description Deactivates the device; push delivery to it stops immediately.
// @Tags        Devices
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Client-generated device ID"  example(a3f1c2d4-5678)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Device not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /devices/{id} [delete]
func (h *Handlers) UnregisterDevice(c *gin.Context) {
	deviceID := c.Param("id")

	if err := h.devSvc.Unregister(c.Request.Context(), userID(c), deviceID); err != nil {
		switch {
		case errors.Is(err, services.ErrDeviceNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "device not found")
		case errors.Is(err, services.ErrEmptyDeviceID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device id required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		}
		return
	}
	noContent(c)
}
