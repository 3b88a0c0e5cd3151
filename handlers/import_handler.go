package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"checkin-system/models"
	"checkin-system/services"
	"checkin-system/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ImportHandler struct {
	app           *pocketbase.PocketBase
	importService *services.ImportService
}

func NewImportHandler(app *pocketbase.PocketBase, importService *services.ImportService) *ImportHandler {
	return &ImportHandler{
		app:           app,
		importService: importService,
	}
}

// ListSources - Configured feeds for an event, tokens redacted
func (h *ImportHandler) ListSources(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	sources, err := h.importService.Store.ListImportSources(e.Request.Context(), eventID)
	if err != nil {
		return apis.NewBadRequestError("Failed to list sources", err)
	}

	result := make([]map[string]any, 0, len(sources))
	for _, source := range sources {
		result = append(result, map[string]any{
			"id":               source.ID,
			"name":             source.Name,
			"url":              source.URL,
			"type":             string(source.Type),
			"auto_import":      source.AutoImport,
			"last_import_time": source.LastImportTime,
			"last_status":      source.LastStatus,
			"last_error":       source.LastError,
		})
	}

	return e.JSON(http.StatusOK, result)
}

// CreateSource - Register a new feed; the webhook token is stored
// hashed
func (h *ImportHandler) CreateSource(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID      string `json:"event_id"`
		Name         string `json:"name"`
		URL          string `json:"url"`
		Token        string `json:"token"`
		Type         string `json:"type"`
		AutoImport   bool   `json:"auto_import"`
		WebhookToken string `json:"webhook_token"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.Name == "" {
		return apis.NewBadRequestError("event_id and name are required", nil)
	}

	collection, err := h.app.FindCollectionByNameOrId("import_sources")
	if err != nil {
		return apis.NewBadRequestError("Failed to resolve collection", err)
	}

	record := core.NewRecord(collection)
	record.Set("event_id", req.EventID)
	record.Set("name", req.Name)
	record.Set("url", req.URL)
	record.Set("token", req.Token)
	record.Set("type", req.Type)
	record.Set("auto_import", req.AutoImport)

	if req.WebhookToken != "" {
		hashed, err := utils.HashToken(req.WebhookToken)
		if err != nil {
			return apis.NewBadRequestError("Failed to hash webhook token", err)
		}
		record.Set("webhook_token_hash", hashed)
	}

	if err := h.app.SaveWithContext(e.Request.Context(), record); err != nil {
		return apis.NewBadRequestError("Failed to create source", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"id": record.Id})
}

// RunSource - Trigger one feed by hand
func (h *ImportHandler) RunSource(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	sourceID := e.Request.PathValue("sourceId")
	source, err := h.importService.Store.FindImportSource(e.Request.Context(), sourceID)
	if err != nil {
		return apis.NewBadRequestError("Failed to load source", err)
	}
	if source == nil {
		return apis.NewNotFoundError("Source not found", nil)
	}

	stats, err := h.importService.RunSource(e.Request.Context(), *source)
	if err != nil {
		if errors.Is(err, services.ErrImportRunning) {
			return e.JSON(http.StatusConflict, map[string]string{
				"error": "An import is already running for this event",
			})
		}
		return apis.NewBadRequestError("Import failed: "+err.Error(), err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"source": source.Name,
		"stats":  stats,
	})
}

// RunAll - Run every feed of an event, isolating per-source failures
func (h *ImportHandler) RunAll(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	results := h.importService.RunAll(e.Request.Context(), eventID)
	return e.JSON(http.StatusOK, results)
}

// UploadCSV - Reconcile an uploaded CSV payload
func (h *ImportHandler) UploadCSV(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	body, err := io.ReadAll(io.LimitReader(e.Request.Body, 32<<20))
	if err != nil {
		return apis.NewBadRequestError("Failed to read body", err)
	}

	records, err := services.ParseCSV(body)
	if err != nil {
		return apis.NewBadRequestError("Malformed CSV", err)
	}
	if len(records) == 0 {
		return apis.NewBadRequestError("CSV has no data rows", nil)
	}

	stats, err := h.importService.ReconcileRecords(e.Request.Context(), eventID, records, services.ReconcileOptions{
		EventID: eventID,
		Source:  models.SourceCSV,
		Now:     time.Now(),
	})
	if err != nil {
		return apis.NewBadRequestError("Reconciliation failed", err)
	}

	log.Printf("CSV import for event %s: %d new, %d existing, %d updated",
		eventID, stats.New, stats.Existing, stats.Updated)

	return e.JSON(http.StatusOK, stats)
}

// Webhook - Inbound push from a check-in vendor. Authenticated by the
// per-source webhook token and, when configured, an HMAC signature
// over the raw body.
func (h *ImportHandler) Webhook(e *core.RequestEvent) error {
	sourceID := e.Request.PathValue("sourceId")

	record, err := h.app.FindRecordById("import_sources", sourceID)
	if err != nil {
		return apis.NewNotFoundError("Source not found", nil)
	}

	body, err := io.ReadAll(io.LimitReader(e.Request.Body, 32<<20))
	if err != nil {
		return apis.NewBadRequestError("Failed to read body", err)
	}

	tokenHash := record.GetString("webhook_token_hash")
	if tokenHash == "" {
		return apis.NewForbiddenError("Webhook not enabled for this source", nil)
	}
	presented := e.Request.Header.Get("X-Webhook-Token")
	if !utils.CompareToken(tokenHash, presented) {
		return apis.NewForbiddenError("Invalid webhook token", nil)
	}
	if signature := e.Request.Header.Get("X-Signature"); signature != "" {
		if !utils.VerifyHmac256(body, []byte(presented), signature) {
			return apis.NewForbiddenError("Invalid payload signature", nil)
		}
	}

	records, _, err := services.ParsePayload(body)
	if err != nil {
		return apis.NewBadRequestError("Malformed payload", err)
	}

	source := models.ImportSource{
		ID:      record.Id,
		EventID: record.GetString("event_id"),
		Name:    record.GetString("name"),
		Type:    models.SourceType(record.GetString("type")),
	}

	stats, err := h.importService.ReconcileRecords(e.Request.Context(), source.EventID, records, services.ReconcileOptions{
		EventID:  source.EventID,
		Source:   source.SourceTag(),
		SourceID: source.ID,
		Type:     source.Type,
		Now:      time.Now(),
	})
	if err != nil {
		return apis.NewBadRequestError("Reconciliation failed", err)
	}

	return e.JSON(http.StatusOK, stats)
}

// DeleteSource - Remove a feed, optionally purging the tickets it
// created
func (h *ImportHandler) DeleteSource(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	sourceID := e.Request.PathValue("sourceId")
	record, err := h.app.FindRecordById("import_sources", sourceID)
	if err != nil {
		return apis.NewNotFoundError("Source not found", nil)
	}

	purged := 0
	if e.Request.URL.Query().Get("purge") == "true" {
		purged, err = h.importService.Store.DeleteTicketsBySource(
			e.Request.Context(),
			record.GetString("event_id"),
			record.Id,
		)
		if err != nil {
			return apis.NewBadRequestError("Failed to purge tickets", err)
		}
	}

	if err := h.app.DeleteWithContext(e.Request.Context(), record); err != nil {
		return apis.NewBadRequestError("Failed to delete source", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"deleted":        true,
		"purged_tickets": purged,
	})
}
