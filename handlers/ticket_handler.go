package handlers

import (
	"net/http"
	"strings"

	"checkin-system/models"
	"checkin-system/services"
	"checkin-system/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	app   *pocketbase.PocketBase
	store *services.RecordStore
}

func NewTicketHandler(app *pocketbase.PocketBase, store *services.RecordStore) *TicketHandler {
	return &TicketHandler{
		app:   app,
		store: store,
	}
}

// Create - Add a single ticket by hand. Locator entries never count
// until scanned; alert entries carry a message shown to the operator
// on scan.
func (h *TicketHandler) Create(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID      string `json:"event_id"`
		Code         string `json:"code"`
		Sector       string `json:"sector"`
		OwnerName    string `json:"owner_name"`
		Email        string `json:"email"`
		Phone        string `json:"phone"`
		Document     string `json:"document"`
		Standby      bool   `json:"standby"`
		Locator      bool   `json:"locator"`
		AlertMessage string `json:"alert_message"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" {
		return apis.NewBadRequestError("event_id is required", nil)
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		generated, err := utils.GenerateTicketCode(6)
		if err != nil {
			return apis.NewBadRequestError("Failed to generate ticket code", err)
		}
		code = generated
	}

	existing, err := h.store.FindTicketByCode(e.Request.Context(), req.EventID, code)
	if err != nil {
		return apis.NewBadRequestError("Failed to check ticket code", err)
	}
	if existing != nil {
		return e.JSON(http.StatusConflict, map[string]string{
			"error": "A ticket with this code already exists",
		})
	}

	source := models.SourceManual
	switch {
	case req.AlertMessage != "":
		source = models.SourceAlert
	case req.Locator:
		source = models.SourceLocator
	}

	sector := req.Sector
	if sector == "" {
		sector = services.DefaultSector
	}

	status := models.TicketAvailable
	if req.Standby {
		status = models.TicketStandby
	}

	ticket := models.Ticket{
		EventID: req.EventID,
		Code:    code,
		Sector:  sector,
		Status:  status,
		Source:  source,
		Details: models.TicketDetails{
			OwnerName:    req.OwnerName,
			Email:        req.Email,
			Phone:        req.Phone,
			Document:     req.Document,
			AlertMessage: req.AlertMessage,
		},
	}

	if err := h.store.CreateTicket(e.Request.Context(), ticket); err != nil {
		return apis.NewBadRequestError("Failed to create ticket", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"code":   code,
		"sector": sector,
		"source": source,
	})
}

// List - Tickets of an event, optionally filtered by sector
func (h *TicketHandler) List(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	tickets, err := h.store.ListTickets(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to list tickets", err)
	}

	if sector := e.Request.URL.Query().Get("sector"); sector != "" {
		filtered := tickets[:0]
		for _, t := range tickets {
			if t.Sector == sector {
				filtered = append(filtered, t)
			}
		}
		tickets = filtered
	}

	return e.JSON(http.StatusOK, tickets)
}
