package handlers

import (
	"net/http"

	"checkin-system/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type SecurityHandler struct {
	app             *pocketbase.PocketBase
	securityService *services.SecurityService
}

func NewSecurityHandler(app *pocketbase.PocketBase, securityService *services.SecurityService) *SecurityHandler {
	return &SecurityHandler{
		app:             app,
		securityService: securityService,
	}
}

// Report - Duplicate tickets, suspicious operators and hot devices
func (h *SecurityHandler) Report(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	report, err := h.securityService.Report(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to analyze scan log", err)
	}

	return e.JSON(http.StatusOK, report)
}
