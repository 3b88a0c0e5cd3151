package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkin-system/models"
	"checkin-system/monitoring"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

var (
	ErrTicketNotFound = errors.New("store: ticket not found")
	ErrImportRunning  = errors.New("store: reconciliation already running for this event")
)

// RecordStore wraps the PocketBase app as the ticket store collaborator.
// All multi-record writes go through chunks no larger than batchSize;
// each chunk commits atomically, there is no cross-chunk transaction.
type RecordStore struct {
	app       core.App
	batchSize int
}

func NewRecordStore(app core.App, batchSize int) *RecordStore {
	if batchSize <= 0 {
		batchSize = 450
	}
	return &RecordStore{app: app, batchSize: batchSize}
}

type ticketRow struct {
	ID           string         `db:"id"`
	EventID      string         `db:"event_id"`
	Code         string         `db:"code"`
	Sector       string         `db:"sector"`
	Status       string         `db:"status"`
	UsedAt       types.DateTime `db:"used_at"`
	Source       string         `db:"source"`
	SourceID     string         `db:"source_id"`
	OwnerName    string         `db:"owner_name"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	Document     string         `db:"document"`
	AlertMessage string         `db:"alert_message"`
}

func (r *ticketRow) toTicket() models.Ticket {
	t := models.Ticket{
		ID:       r.ID,
		EventID:  r.EventID,
		Code:     r.Code,
		Sector:   r.Sector,
		Status:   models.TicketStatus(r.Status),
		Source:   r.Source,
		SourceID: r.SourceID,
		Details: models.TicketDetails{
			OwnerName:    r.OwnerName,
			Email:        r.Email,
			Phone:        r.Phone,
			Document:     r.Document,
			AlertMessage: r.AlertMessage,
		},
	}
	if !r.UsedAt.IsZero() {
		usedAt := r.UsedAt.Time()
		t.UsedAt = &usedAt
	}
	return t
}

// ListTickets fetches the full ticket snapshot for an event.
func (s *RecordStore) ListTickets(_ context.Context, eventID string) ([]models.Ticket, error) {
	rows := []ticketRow{}
	err := s.app.DB().
		Select("id", "event_id", "code", "sector", "status", "used_at", "source",
			"source_id", "owner_name", "email", "phone", "document", "alert_message").
		From("tickets").
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("code ASC").
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	tickets := make([]models.Ticket, len(rows))
	for i := range rows {
		tickets[i] = rows[i].toTicket()
	}
	return tickets, nil
}

// FindTicketByCode returns nil without error when no ticket matches.
func (s *RecordStore) FindTicketByCode(_ context.Context, eventID, code string) (*models.Ticket, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"event_id = {:eventId} && code = {:code}",
		dbx.Params{"eventId": eventID, "code": code},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ticket: %w", err)
	}

	ticket := recordToTicket(record)
	return &ticket, nil
}

// MarkTicketUsed commits the terminal transition. A ticket that is
// already used keeps its original used_at.
func (s *RecordStore) MarkTicketUsed(ctx context.Context, eventID, code string, usedAt time.Time) error {
	record, err := s.app.FindFirstRecordByFilter(
		"tickets",
		"event_id = {:eventId} && code = {:code}",
		dbx.Params{"eventId": eventID, "code": code},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTicketNotFound
		}
		return fmt.Errorf("find ticket: %w", err)
	}

	if record.GetString("status") == string(models.TicketUsed) {
		return nil
	}

	record.Set("status", string(models.TicketUsed))
	record.Set("used_at", usedAt.UTC())
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// CreateTicket inserts one manually-added ticket.
func (s *RecordStore) CreateTicket(ctx context.Context, t models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return fmt.Errorf("tickets collection: %w", err)
	}

	record := core.NewRecord(collection)
	setTicketFields(record, t)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// chunkBounds splits total items into contiguous [start, end) windows
// of at most size items.
func chunkBounds(total, size int) [][2]int {
	var bounds [][2]int
	for start := 0; start < total; start += size {
		bounds = append(bounds, [2]int{start, min(start+size, total)})
	}
	return bounds
}

// ApplyPlan persists a reconciliation plan in chunks. A failing chunk
// stops the apply; previously committed chunks stay applied.
func (s *RecordStore) ApplyPlan(ctx context.Context, eventID string, plan ReconcilePlan) error {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return fmt.Errorf("tickets collection: %w", err)
	}

	for _, b := range chunkBounds(len(plan.ToInsert), s.batchSize) {
		start, end := b[0], b[1]
		chunk := plan.ToInsert[start:end]

		err := s.app.RunInTransaction(func(txApp core.App) error {
			for i := range chunk {
				record := core.NewRecord(collection)
				setTicketFields(record, chunk[i])
				if err := txApp.SaveWithContext(ctx, record); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("insert chunk %d-%d: %w", start, end, err)
		}
		monitoring.TrackChunkCommit(eventID, len(chunk))
	}

	for _, b := range chunkBounds(len(plan.ToUpdate), s.batchSize) {
		start, end := b[0], b[1]
		chunk := plan.ToUpdate[start:end]

		err := s.app.RunInTransaction(func(txApp core.App) error {
			for _, update := range chunk {
				record, err := txApp.FindFirstRecordByFilter(
					"tickets",
					"event_id = {:eventId} && code = {:code}",
					dbx.Params{"eventId": eventID, "code": update.Code},
				)
				if err != nil {
					return fmt.Errorf("find %s: %w", update.Code, err)
				}

				if update.MarkUsed && record.GetString("status") != string(models.TicketUsed) {
					record.Set("status", string(models.TicketUsed))
					usedAt := time.Now()
					if update.UsedAt != nil {
						usedAt = *update.UsedAt
					}
					record.Set("used_at", usedAt.UTC())
				}
				for column, value := range update.FillDetails {
					if record.GetString(column) == "" {
						record.Set(column, value)
					}
				}

				if err := txApp.SaveWithContext(ctx, record); err != nil {
					return fmt.Errorf("save %s: %w", update.Code, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("update chunk %d-%d: %w", start, end, err)
		}
		monitoring.TrackChunkCommit(eventID, len(chunk))
	}

	return nil
}

// DeleteTicketsBySource removes every ticket one feed created, in
// chunks. Filtering on the source record id keeps two feeds that share
// a source tag separable.
func (s *RecordStore) DeleteTicketsBySource(ctx context.Context, eventID, sourceID string) (int, error) {
	deleted := 0
	for {
		records, err := s.app.FindRecordsByFilter(
			"tickets",
			"event_id = {:eventId} && source_id = {:sourceId}",
			"code",
			s.batchSize,
			0,
			dbx.Params{"eventId": eventID, "sourceId": sourceID},
		)
		if err != nil {
			return deleted, fmt.Errorf("list tickets for delete: %w", err)
		}
		if len(records) == 0 {
			return deleted, nil
		}

		err = s.app.RunInTransaction(func(txApp core.App) error {
			for _, record := range records {
				if err := txApp.DeleteWithContext(ctx, record); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete chunk: %w", err)
		}
		deleted += len(records)
	}
}

// AppendScanLog stores one immutable scan attempt.
func (s *RecordStore) AppendScanLog(ctx context.Context, entry models.ScanLogEntry) error {
	collection, err := s.app.FindCollectionByNameOrId("scan_logs")
	if err != nil {
		return fmt.Errorf("scan_logs collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("event_id", entry.EventID)
	record.Set("ticket_code", entry.TicketCode)
	record.Set("status", string(entry.Status))
	record.Set("scanned_at", entry.Timestamp.UTC())
	record.Set("device_id", entry.DeviceID)
	record.Set("operator", entry.Operator)

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save scan log: %w", err)
	}
	return nil
}

type scanLogRow struct {
	EventID    string         `db:"event_id"`
	TicketCode string         `db:"ticket_code"`
	Status     string         `db:"status"`
	ScannedAt  types.DateTime `db:"scanned_at"`
	DeviceID   string         `db:"device_id"`
	Operator   string         `db:"operator"`
}

// ListScanLog fetches the full append-only log for an event in scan
// order.
func (s *RecordStore) ListScanLog(_ context.Context, eventID string) ([]models.ScanLogEntry, error) {
	rows := []scanLogRow{}
	err := s.app.DB().
		Select("event_id", "ticket_code", "status", "scanned_at", "device_id", "operator").
		From("scan_logs").
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("scanned_at ASC").
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list scan log: %w", err)
	}

	entries := make([]models.ScanLogEntry, len(rows))
	for i, row := range rows {
		entries[i] = models.ScanLogEntry{
			EventID:    row.EventID,
			TicketCode: row.TicketCode,
			Status:     models.ScanStatus(row.Status),
			Timestamp:  row.ScannedAt.Time(),
			DeviceID:   row.DeviceID,
			Operator:   row.Operator,
		}
	}
	return entries, nil
}

// ListGroups returns the configured sector groups in configured order.
func (s *RecordStore) ListGroups(_ context.Context, eventID string) ([]models.SectorGroup, error) {
	records, err := s.app.FindRecordsByFilter(
		"sector_groups",
		"event_id = {:eventId}",
		"created",
		-1,
		0,
		dbx.Params{"eventId": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	groups := make([]models.SectorGroup, 0, len(records))
	for _, record := range records {
		group := models.SectorGroup{
			ID:      record.Id,
			EventID: record.GetString("event_id"),
			Name:    record.GetString("name"),
		}
		if err := record.UnmarshalJSONField("sectors", &group.Sectors); err != nil {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// ListSectors returns the configured sector list for an event.
func (s *RecordStore) ListSectors(_ context.Context, eventID string) ([]string, error) {
	record, err := s.findSettings(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	sectors := []string{}
	if err := record.UnmarshalJSONField("sectors", &sectors); err != nil {
		return nil, fmt.Errorf("decode sectors: %w", err)
	}
	return sectors, nil
}

// SaveSectors replaces the configured sector list for an event.
func (s *RecordStore) SaveSectors(ctx context.Context, eventID string, sectors []string) error {
	record, err := s.findSettings(eventID)
	if errors.Is(err, sql.ErrNoRows) {
		collection, cerr := s.app.FindCollectionByNameOrId("dashboard_settings")
		if cerr != nil {
			return fmt.Errorf("dashboard_settings collection: %w", cerr)
		}
		record = core.NewRecord(collection)
		record.Set("event_id", eventID)
	} else if err != nil {
		return err
	}

	record.Set("sectors", sectors)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save sectors: %w", err)
	}
	return nil
}

func (s *RecordStore) findSettings(eventID string) (*core.Record, error) {
	return s.app.FindFirstRecordByFilter(
		"dashboard_settings",
		"event_id = {:eventId}",
		dbx.Params{"eventId": eventID},
	)
}

// ListImportSources returns the configured feeds for an event.
func (s *RecordStore) ListImportSources(_ context.Context, eventID string) ([]models.ImportSource, error) {
	records, err := s.app.FindRecordsByFilter(
		"import_sources",
		"event_id = {:eventId}",
		"created",
		-1,
		0,
		dbx.Params{"eventId": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("list import sources: %w", err)
	}

	sources := make([]models.ImportSource, len(records))
	for i, record := range records {
		sources[i] = recordToSource(record)
	}
	return sources, nil
}

// ListAutoImportSources returns every feed flagged for background
// polling, across all events.
func (s *RecordStore) ListAutoImportSources(_ context.Context) ([]models.ImportSource, error) {
	records, err := s.app.FindRecordsByFilter(
		"import_sources",
		"auto_import = true",
		"created",
		-1,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("list auto-import sources: %w", err)
	}

	sources := make([]models.ImportSource, len(records))
	for i, record := range records {
		sources[i] = recordToSource(record)
	}
	return sources, nil
}

// FindImportSource loads one feed by record id.
func (s *RecordStore) FindImportSource(_ context.Context, id string) (*models.ImportSource, error) {
	record, err := s.app.FindRecordById("import_sources", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find import source: %w", err)
	}

	source := recordToSource(record)
	return &source, nil
}

// RecordImportOutcome stamps the result of a run on the source record.
func (s *RecordStore) RecordImportOutcome(ctx context.Context, sourceID, status, message string, at time.Time) error {
	record, err := s.app.FindRecordById("import_sources", sourceID)
	if err != nil {
		return fmt.Errorf("find import source: %w", err)
	}

	record.Set("last_import_time", at.UTC())
	record.Set("last_status", status)
	record.Set("last_error", message)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save import source: %w", err)
	}
	return nil
}

func recordToTicket(record *core.Record) models.Ticket {
	t := models.Ticket{
		ID:       record.Id,
		EventID:  record.GetString("event_id"),
		Code:     record.GetString("code"),
		Sector:   record.GetString("sector"),
		Status:   models.TicketStatus(record.GetString("status")),
		Source:   record.GetString("source"),
		SourceID: record.GetString("source_id"),
		Details: models.TicketDetails{
			OwnerName:    record.GetString("owner_name"),
			Email:        record.GetString("email"),
			Phone:        record.GetString("phone"),
			Document:     record.GetString("document"),
			AlertMessage: record.GetString("alert_message"),
		},
	}
	if usedAt := record.GetDateTime("used_at"); !usedAt.IsZero() {
		at := usedAt.Time()
		t.UsedAt = &at
	}
	return t
}

func setTicketFields(record *core.Record, t models.Ticket) {
	record.Set("event_id", t.EventID)
	record.Set("code", t.Code)
	record.Set("sector", t.Sector)
	record.Set("status", string(t.Status))
	record.Set("source", t.Source)
	record.Set("source_id", t.SourceID)
	record.Set("owner_name", t.Details.OwnerName)
	record.Set("email", t.Details.Email)
	record.Set("phone", t.Details.Phone)
	record.Set("document", t.Details.Document)
	record.Set("alert_message", t.Details.AlertMessage)
	if t.UsedAt != nil {
		record.Set("used_at", t.UsedAt.UTC())
	}
}

func recordToSource(record *core.Record) models.ImportSource {
	source := models.ImportSource{
		ID:         record.Id,
		EventID:    record.GetString("event_id"),
		Name:       record.GetString("name"),
		URL:        record.GetString("url"),
		Token:      record.GetString("token"),
		Type:       models.SourceType(record.GetString("type")),
		AutoImport: record.GetBool("auto_import"),
		LastStatus: record.GetString("last_status"),
		LastError:  record.GetString("last_error"),
	}
	if last := record.GetDateTime("last_import_time"); !last.IsZero() {
		at := last.Time()
		source.LastImportTime = &at
	}
	return source
}
