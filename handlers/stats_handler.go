package handlers

import (
	"net/http"
	"strings"

	"checkin-system/models"
	"checkin-system/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type StatsHandler struct {
	app          *pocketbase.PocketBase
	statsService *services.StatsService
}

func NewStatsHandler(app *pocketbase.PocketBase, statsService *services.StatsService) *StatsHandler {
	return &StatsHandler{
		app:          app,
		statsService: statsService,
	}
}

// Dashboard - Summary, per-sector table and entry histogram in one call
func (h *StatsHandler) Dashboard(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	query := e.Request.URL.Query()

	mode := models.ModeRaw
	if query.Get("mode") == string(models.ModeGrouped) {
		mode = models.ModeGrouped
	}

	var sectorFilter map[string]bool
	if raw := query.Get("sectors"); raw != "" {
		sectorFilter = make(map[string]bool)
		for _, sector := range strings.Split(raw, ",") {
			if sector = strings.TrimSpace(sector); sector != "" {
				sectorFilter[sector] = true
			}
		}
	}

	result, err := h.statsService.Dashboard(e.Request.Context(), eventID, mode, sectorFilter)
	if err != nil {
		return apis.NewBadRequestError("Failed to aggregate", err)
	}

	response := map[string]any{
		"event_id":     eventID,
		"mode":         string(mode),
		"summary":      result.Summary,
		"sectors":      result.Rows,
		"histogram":    result.Histogram.Buckets(),
		"first_access": result.FirstAccess,
		"last_access":  result.LastAccess,
	}
	if peak := result.Histogram.Peak(); peak != nil {
		response["peak"] = map[string]any{
			"time":  peak.Key,
			"count": peak.Total,
		}
	}

	return e.JSON(http.StatusOK, response)
}

// Sectors - Configured sector list for filter dropdowns
func (h *StatsHandler) Sectors(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	sectors, err := h.statsService.Store.ListSectors(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to get sectors", err)
	}

	groups, err := h.statsService.Store.ListGroups(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to get groups", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"sectors":  sectors,
		"groups":   groups,
	})
}
