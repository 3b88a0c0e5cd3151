package handlers

import (
	"net/http"
	"strconv"

	"checkin-system/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ScanHandler struct {
	app         *pocketbase.PocketBase
	scanService *services.ScanService
}

func NewScanHandler(app *pocketbase.PocketBase, scanService *services.ScanService) *ScanHandler {
	return &ScanHandler{
		app:         app,
		scanService: scanService,
	}
}

// Scan - Validate one decoded code from an operator device
func (h *ScanHandler) Scan(e *core.RequestEvent) error {
	var req services.ScanRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if req.EventID == "" || req.Code == "" {
		return apis.NewBadRequestError("event_id and code are required", nil)
	}
	if req.DeviceID == "" {
		req.DeviceID = e.Request.Header.Get("X-Device-Id")
	}

	result, err := h.scanService.Scan(e.Request.Context(), req)
	if err != nil {
		return apis.NewBadRequestError("Scan failed", err)
	}

	return e.JSON(http.StatusOK, result)
}

// RecentScans - Latest attempts for the live dashboard feed
func (h *ScanHandler) RecentScans(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	limit, _ := strconv.Atoi(e.Request.URL.Query().Get("limit"))

	entries, err := h.scanService.RecentScans(e.Request.Context(), eventID, limit)
	if err != nil {
		return apis.NewBadRequestError("Failed to get recent scans", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"scans":    entries,
	})
}
