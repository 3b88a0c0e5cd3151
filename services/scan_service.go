package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"checkin-system/config"
	"checkin-system/models"
	"checkin-system/monitoring"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// ScanStore is the slice of the record store the scan path touches.
type ScanStore interface {
	FindTicketByCode(ctx context.Context, eventID, code string) (*models.Ticket, error)
	MarkTicketUsed(ctx context.Context, eventID, code string, usedAt time.Time) error
	AppendScanLog(ctx context.Context, entry models.ScanLogEntry) error
}

type ScanService struct {
	Store  ScanStore
	Redis  *redis.Client
	PubNub *pubnub.PubNub
	Config *config.Config
}

func NewScanService(store ScanStore, redisClient *redis.Client, pn *pubnub.PubNub, cfg *config.Config) *ScanService {
	return &ScanService{
		Store:  store,
		Redis:  redisClient,
		PubNub: pn,
		Config: cfg,
	}
}

// ScanRequest is one decoded code arriving from an operator device.
type ScanRequest struct {
	EventID      string `json:"event_id"`
	Code         string `json:"code"`
	TargetSector string `json:"target_sector"`
	DeviceID     string `json:"device_id"`
	Operator     string `json:"operator"`

	// Confirmed commits the USED transition for a ticket that was
	// answered with alert_required on a previous attempt.
	Confirmed bool `json:"confirmed"`
}

// Validate decides the outcome for a scanned code against the current
// ticket record. It never mutates the ticket. Precedence: unknown code,
// duplicate scan, sector mismatch, pending alert, valid.
func Validate(code string, ticket *models.Ticket, targetSector string) models.ScanStatus {
	switch {
	case ticket == nil || code == "":
		return models.ScanInvalid
	case ticket.Status == models.TicketUsed:
		return models.ScanUsed
	case targetSector != "" && ticket.Sector != targetSector:
		return models.ScanWrongSector
	case ticket.Details.AlertMessage != "":
		return models.ScanAlertRequired
	default:
		return models.ScanValid
	}
}

// Scan runs the full validation path: lookup, decision, the USED
// transition for accepted tickets and exactly one scan-log entry for
// every attempt. Rejections never touch the ticket record.
func (s *ScanService) Scan(ctx context.Context, req ScanRequest) (models.ScanResult, error) {
	started := time.Now()

	ticket, err := s.Store.FindTicketByCode(ctx, req.EventID, req.Code)
	if err != nil {
		// Store lookup failure is a terminal per-scan outcome, not a
		// crash: log the attempt as an error and report it back.
		log.Printf("Scan lookup failed for code %s: %v", req.Code, err)
		result := models.ScanResult{Status: models.ScanError, TicketCode: req.Code}
		s.finishScan(ctx, req, nil, result, started)
		return result, nil
	}

	status := Validate(req.Code, ticket, req.TargetSector)
	if status == models.ScanAlertRequired && req.Confirmed {
		status = models.ScanValid
	}

	if status == models.ScanValid {
		usedAt := time.Now()
		if err := s.Store.MarkTicketUsed(ctx, req.EventID, req.Code, usedAt); err != nil {
			log.Printf("Failed to mark ticket %s used: %v", req.Code, err)
			status = models.ScanError
		} else {
			ticket.Status = models.TicketUsed
			ticket.UsedAt = &usedAt
		}
	}

	result := models.ScanResult{
		Status:     status,
		TicketCode: req.Code,
	}
	if ticket != nil {
		result.Sector = ticket.Sector
		result.OwnerName = ticket.Details.OwnerName
		result.UsedAt = ticket.UsedAt
		if status == models.ScanAlertRequired {
			result.AlertMessage = ticket.Details.AlertMessage
		}
	}

	s.finishScan(ctx, req, ticket, result, started)
	return result, nil
}

// finishScan appends the single log entry for the attempt and fans the
// outcome out to the recent-scan cache and the dashboard channel.
func (s *ScanService) finishScan(ctx context.Context, req ScanRequest, ticket *models.Ticket, result models.ScanResult, started time.Time) {
	entry := models.ScanLogEntry{
		EventID:    req.EventID,
		TicketCode: req.Code,
		Status:     result.Status,
		Timestamp:  started,
		DeviceID:   req.DeviceID,
		Operator:   req.Operator,
	}

	if err := s.Store.AppendScanLog(ctx, entry); err != nil {
		slog.Error("failed to append scan log", "code", req.Code, "status", result.Status, "error", err)
	}

	s.cacheRecentScan(ctx, entry)

	sector := ""
	if ticket != nil {
		sector = ticket.Sector
	}
	monitoring.TrackScan(string(result.Status), sector)
	monitoring.TrackScanDuration(req.EventID, time.Since(started))
	if result.Status == models.ScanUsed {
		monitoring.TrackDuplicateScan(req.EventID)
	}

	if s.PubNub != nil {
		channel := fmt.Sprintf("event-%s-scans", req.EventID)
		s.PubNub.Publish().
			Channel(channel).
			Message(map[string]any{
				"type":        "scan",
				"ticket_code": req.Code,
				"status":      string(result.Status),
				"sector":      sector,
				"device_id":   req.DeviceID,
				"operator":    req.Operator,
			}).
			Execute()
	}
}

func (s *ScanService) cacheRecentScan(ctx context.Context, entry models.ScanLogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	key := fmt.Sprintf("scans:recent:%s", entry.EventID)
	s.Redis.LPush(ctx, key, data)
	s.Redis.LTrim(ctx, key, 0, int64(s.Config.RecentScanLimit-1))
}

// RecentScans returns the newest cached attempts for an event, newest
// first.
func (s *ScanService) RecentScans(ctx context.Context, eventID string, limit int) ([]models.ScanLogEntry, error) {
	if limit <= 0 || limit > s.Config.RecentScanLimit {
		limit = s.Config.RecentScanLimit
	}

	key := fmt.Sprintf("scans:recent:%s", eventID)
	raw, err := s.Redis.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.ScanLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.ScanLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
