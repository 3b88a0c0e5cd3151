package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// StateHandler persists the dashboard UI state (selected mode, sector
// filters, panel layout) so operators get the same view back after a
// reload. State is opaque to the server.
type StateHandler struct {
	redis *redis.Client
}

func NewStateHandler(redisClient *redis.Client) *StateHandler {
	return &StateHandler{redis: redisClient}
}

const stateTTL = 30 * 24 * time.Hour

func stateKey(eventID string) string {
	return "dashboard:state:" + eventID
}

// Load - Saved UI state for an event, empty object when none exists
func (h *StateHandler) Load(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	raw, err := h.redis.Get(e.Request.Context(), stateKey(eventID)).Result()
	if err == redis.Nil {
		return e.JSON(http.StatusOK, map[string]any{})
	}
	if err != nil {
		return apis.NewBadRequestError("Failed to load state", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// Stale or corrupt entry, start over
		return e.JSON(http.StatusOK, map[string]any{})
	}

	return e.JSON(http.StatusOK, state)
}

// Save - Replace the saved UI state for an event
func (h *StateHandler) Save(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	var state map[string]any
	if err := e.BindBody(&state); err != nil {
		return apis.NewBadRequestError("Invalid state payload", err)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return apis.NewBadRequestError("Failed to encode state", err)
	}

	if err := h.redis.Set(e.Request.Context(), stateKey(eventID), raw, stateTTL).Err(); err != nil {
		return apis.NewBadRequestError("Failed to save state", err)
	}

	return e.JSON(http.StatusOK, map[string]bool{"saved": true})
}
