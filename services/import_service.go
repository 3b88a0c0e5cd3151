package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"checkin-system/config"
	"checkin-system/models"
	"checkin-system/monitoring"
	"checkin-system/utils"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// Envelope fields vendors wrap their JSON payloads in, checked in
// order. A bare top-level array is also accepted.
var envelopeFields = []string{"data", "participants", "tickets", "checkins", "buyers"}

type ImportService struct {
	Store  *RecordStore
	Redis  *redis.Client
	PubNub *pubnub.PubNub
	Config *config.Config

	hc *http.Client

	mu       sync.Mutex
	breakers map[string]*utils.CircuitBreaker
}

func NewImportService(store *RecordStore, redisClient *redis.Client, pn *pubnub.PubNub, cfg *config.Config) *ImportService {
	return &ImportService{
		Store:    store,
		Redis:    redisClient,
		PubNub:   pn,
		Config:   cfg,
		hc:       &http.Client{Timeout: cfg.ImportHTTPTimeout},
		breakers: make(map[string]*utils.CircuitBreaker),
	}
}

// RunSource fetches one feed and reconciles it into the ticket store.
// A per-event lock keeps a manual run and the background poll from
// reconciling the same event concurrently.
func (s *ImportService) RunSource(ctx context.Context, source models.ImportSource) (models.ReconcileStats, error) {
	unlock, err := s.lockEvent(ctx, source.EventID)
	if err != nil {
		return models.ReconcileStats{}, err
	}
	defer unlock()

	records, err := s.fetchAll(ctx, source)
	if err != nil {
		s.recordOutcome(ctx, source, "error", err.Error())
		monitoring.TrackImportRun(source.Name, "error")
		return models.ReconcileStats{}, fmt.Errorf("fetch %s: %w", source.Name, err)
	}

	stats, err := s.ReconcileRecords(ctx, source.EventID, records, ReconcileOptions{
		EventID:  source.EventID,
		Source:   source.SourceTag(),
		SourceID: source.ID,
		Type:     source.Type,
		Now:      time.Now(),
	})
	if err != nil {
		s.recordOutcome(ctx, source, "error", err.Error())
		monitoring.TrackImportRun(source.Name, "error")
		return stats, err
	}

	s.recordOutcome(ctx, source, "ok", "")
	monitoring.TrackImportRun(source.Name, "ok")
	monitoring.TrackImportRecords(source.Name, stats)

	if s.PubNub != nil {
		s.PubNub.Publish().
			Channel(fmt.Sprintf("event-%s-imports", source.EventID)).
			Message(map[string]any{
				"type":     "import_completed",
				"source":   source.Name,
				"new":      stats.New,
				"existing": stats.Existing,
				"updated":  stats.Updated,
			}).
			Execute()
	}

	return stats, nil
}

// ReconcileRecords merges already-parsed records (feed pages, uploaded
// CSV, webhook pushes) into the store and unions discovered sectors
// into the configured list.
func (s *ImportService) ReconcileRecords(ctx context.Context, eventID string, records []models.RawRecord, opts ReconcileOptions) (models.ReconcileStats, error) {
	existing, err := s.Store.ListTickets(ctx, eventID)
	if err != nil {
		return models.ReconcileStats{}, fmt.Errorf("load existing tickets: %w", err)
	}

	plan := Reconcile(existing, records, opts)

	if err := s.Store.ApplyPlan(ctx, eventID, plan); err != nil {
		return plan.Stats, fmt.Errorf("apply plan: %w", err)
	}

	if len(plan.Sectors) > 0 {
		configured, err := s.Store.ListSectors(ctx, eventID)
		if err != nil {
			return plan.Stats, fmt.Errorf("load sectors: %w", err)
		}
		merged := UnionSectors(configured, plan.Sectors)
		if len(merged) != len(configured) {
			if err := s.Store.SaveSectors(ctx, eventID, merged); err != nil {
				return plan.Stats, fmt.Errorf("save sectors: %w", err)
			}
		}
	}

	return plan.Stats, nil
}

// RunAll runs every configured feed for an event. A failing source is
// reported and does not abort the remaining ones.
func (s *ImportService) RunAll(ctx context.Context, eventID string) map[string]models.ReconcileStats {
	results := make(map[string]models.ReconcileStats)

	sources, err := s.Store.ListImportSources(ctx, eventID)
	if err != nil {
		log.Printf("Error listing import sources for event %s: %v", eventID, err)
		return results
	}

	for _, source := range sources {
		stats, err := s.RunSource(ctx, source)
		if err != nil {
			slog.Error("import source failed", "source", source.Name, "event", eventID, "error", err)
			continue
		}
		results[source.Name] = stats
	}

	return results
}

// AutoImportLoop polls every auto-import feed on a fixed interval until
// the context is cancelled. Each source runs behind its own circuit
// breaker so a flapping vendor does not burn the whole cycle.
func (s *ImportService) AutoImportLoop(ctx context.Context) {
	ticker := time.NewTicker(s.Config.AutoImportInterval)
	defer ticker.Stop()

	log.Printf("Auto-import loop started (interval %s)", s.Config.AutoImportInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Auto-import loop stopped")
			return
		case <-ticker.C:
			s.runAutoImportCycle(ctx)
		}
	}
}

func (s *ImportService) runAutoImportCycle(ctx context.Context) {
	sources, err := s.Store.ListAutoImportSources(ctx)
	if err != nil {
		log.Printf("Error listing auto-import sources: %v", err)
		return
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return
		}

		breaker := s.breakerFor(source.ID)
		_, err := breaker.Execute(ctx, func() (any, error) {
			return s.RunSource(ctx, source)
		})
		if err != nil {
			// The next cycle is the retry mechanism.
			slog.Error("auto-import failed", "source", source.Name, "error", err)
		}
	}
}

func (s *ImportService) breakerFor(sourceID string) *utils.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	breaker, ok := s.breakers[sourceID]
	if !ok {
		breaker = utils.NewCircuitBreaker("import:" + sourceID)
		s.breakers[sourceID] = breaker
	}
	return breaker
}

// lockEvent takes the per-event reconciliation mutex. The TTL covers
// the worst-case run so a crashed holder cannot wedge the event.
func (s *ImportService) lockEvent(ctx context.Context, eventID string) (func(), error) {
	key := fmt.Sprintf("import:lock:%s", eventID)
	ok, err := s.Redis.SetNX(ctx, key, time.Now().Unix(), 10*time.Minute).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire import lock: %w", err)
	}
	if !ok {
		return nil, ErrImportRunning
	}
	return func() {
		s.Redis.Del(context.Background(), key)
	}, nil
}

func (s *ImportService) recordOutcome(ctx context.Context, source models.ImportSource, status, message string) {
	if err := s.Store.RecordImportOutcome(ctx, source.ID, status, message, time.Now()); err != nil {
		slog.Error("failed to record import outcome", "source", source.Name, "error", err)
	}
}

// fetchAll pages through the feed until last_page, an empty page or the
// configured page cap, whichever comes first.
func (s *ImportService) fetchAll(ctx context.Context, source models.ImportSource) ([]models.RawRecord, error) {
	all := []models.RawRecord{}

	for page := 1; page <= s.Config.ImportMaxPages; page++ {
		records, lastPage, err := s.fetchPage(ctx, source, page)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		if len(records) == 0 {
			break
		}
		if lastPage > 0 && page >= lastPage {
			break
		}
		// CSV payloads are not paginated.
		if lastPage == 0 && page == 1 && len(records) < s.Config.ImportPageSize {
			break
		}
	}

	return all, nil
}

func (s *ImportService) fetchPage(ctx context.Context, source models.ImportSource, page int) ([]models.RawRecord, int, error) {
	endpoint, err := url.Parse(source.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid source url: %w", err)
	}

	query := endpoint.Query()
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("per_page", fmt.Sprintf("%d", s.Config.ImportPageSize))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	if source.Token != "" {
		req.Header.Set("Authorization", "Bearer "+source.Token)
	}
	req.Header.Set("Accept", "application/json, text/csv")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "csv") || looksLikeCSV(body) {
		records, err := ParseCSV(body)
		return records, 0, err
	}

	return parseJSONPayload(body)
}

// looksLikeCSV is the fallback for feeds that serve CSV with a generic
// content type.
func looksLikeCSV(body []byte) bool {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return trimmed != "" && trimmed[0] != '{' && trimmed[0] != '['
}

// ParsePayload decodes a pushed payload, accepting either CSV or any
// of the JSON shapes the polled feeds use.
func ParsePayload(body []byte) ([]models.RawRecord, int, error) {
	if looksLikeCSV(body) {
		records, err := ParseCSV(body)
		return records, 0, err
	}
	return parseJSONPayload(body)
}

// parseJSONPayload accepts a top-level array or any of the known
// envelope shapes and reports last_page when the vendor sends one.
func parseJSONPayload(body []byte) ([]models.RawRecord, int, error) {
	var asArray []models.RawRecord
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray, 0, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, 0, fmt.Errorf("malformed payload: %w", err)
	}

	lastPage := 0
	if raw, ok := envelope["last_page"]; ok {
		var lp float64
		if err := json.Unmarshal(raw, &lp); err == nil {
			lastPage = int(lp)
		}
	}

	for _, field := range envelopeFields {
		raw, ok := envelope[field]
		if !ok {
			continue
		}
		var records []models.RawRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, 0, fmt.Errorf("malformed %q field: %w", field, err)
		}
		return records, lastPage, nil
	}

	return nil, 0, fmt.Errorf("payload has no recognized record field")
}

// ParseCSV turns a CSV payload into raw records keyed by the header
// row. Header names keep their vendor spelling; alias resolution
// happens during reconciliation.
func ParseCSV(body []byte) ([]models.RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	records := make([]models.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := models.RawRecord{}
		for i, value := range row {
			if i >= len(header) {
				break
			}
			record[strings.TrimSpace(header[i])] = value
		}
		records = append(records, record)
	}

	return records, nil
}
