package services

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"checkin-system/models"
)

// DefaultSector is assigned to imported records that carry no sector
// field under any known alias.
const DefaultSector = "Geral"

// Field-name aliases across vendor feeds, first non-empty wins. Kept
// table-driven so a new vendor shape is a data change, not a code
// change.
var (
	codeAliases   = []string{"code", "codigo", "id", "ticket_code", "ticket", "qr_code", "barcode", "voucher"}
	sectorAliases = []string{"sector", "setor", "category", "categoria", "ticket_type", "lote"}
	nameAliases   = []string{"name", "nome", "attendee_name", "participant_name", "buyer_name", "owner_name"}
	emailAliases  = []string{"email", "e-mail", "buyer_email"}
	phoneAliases  = []string{"phone", "telefone", "celular", "mobile"}
	docAliases    = []string{"document", "documento", "cpf", "doc"}

	usedFlagAliases = []string{"used", "checked_in", "checkin", "validated", "is_used"}
	usedAtAliases   = []string{"used_at", "checkin_time", "checked_in_at", "checkin_at", "validated_at"}
	statusAliases   = []string{"status", "situacao", "state"}
)

// Status values vendors use for an already checked-in ticket.
var usedStatusValues = map[string]bool{
	"used":       true,
	"checked_in": true,
	"checked-in": true,
	"checkin":    true,
	"validated":  true,
	"usado":      true,
	"utilizado":  true,
}

// TicketUpdate is one change the reconciler wants applied to an
// existing ticket. FillDetails is append-only: it only carries detail
// columns that are empty on the stored record.
type TicketUpdate struct {
	Code        string
	MarkUsed    bool
	UsedAt      *time.Time
	FillDetails map[string]string
}

// ReconcilePlan is the outcome of one reconciliation pass. Applying it
// to the store and re-running the same pass must produce an empty plan.
type ReconcilePlan struct {
	ToInsert []models.Ticket
	ToUpdate []TicketUpdate
	Stats    models.ReconcileStats

	// Sectors are the distinct sector names seen among resolvable
	// records, sorted, for unioning into the configured sector list.
	Sectors []string
}

// ReconcileOptions configure one pass.
type ReconcileOptions struct {
	EventID string
	Source  string

	// SourceID identifies the import_sources record behind the pass,
	// empty for CSV uploads.
	SourceID string

	Type models.SourceType

	// Now stamps used_at for records that indicate a used state but
	// carry no usable timestamp of their own.
	Now time.Time
}

// Reconcile merges externally-sourced records into the existing ticket
// set. Records are processed in stream order; the first occurrence of a
// code within the pass wins and later occurrences never insert again.
// An existing USED ticket is never downgraded.
func Reconcile(existing []models.Ticket, incoming []models.RawRecord, opts ReconcileOptions) ReconcilePlan {
	plan := ReconcilePlan{}

	byCode := make(map[string]*models.Ticket, len(existing))
	for i := range existing {
		byCode[existing[i].Code] = &existing[i]
	}

	// Codes inserted during this pass, mapped to their pending entry in
	// ToInsert. A pre-existing lookup alone would let an in-stream
	// duplicate insert twice.
	addedThisPass := make(map[string]int)
	sectorSet := make(map[string]bool)

	for _, rec := range incoming {
		fields := normalizeKeys(rec)

		code := firstNonEmpty(fields, codeAliases)
		if code == "" {
			// No resolvable code: skipped, counts toward nothing.
			continue
		}

		sector := firstNonEmpty(fields, sectorAliases)
		if sector == "" {
			sector = DefaultSector
		}
		sectorSet[sector] = true

		current, exists := byCode[code]
		incomingUsed, incomingUsedAt := usedState(fields, opts)

		if !exists {
			// A duplicate of a code inserted earlier in this pass
			// folds into the pending entry: the first occurrence wins
			// its fields, but a used state or a blank-filling detail
			// must not be dropped or the applied store would accept
			// the same input again.
			if idx, dup := addedThisPass[code]; dup {
				plan.Stats.Existing++
				pending := &plan.ToInsert[idx]
				if incomingUsed && pending.Status != models.TicketUsed {
					pending.Status = models.TicketUsed
					pending.UsedAt = incomingUsedAt
				}
				if fill := detailFill(pending.Details, fields); len(fill) > 0 {
					applyDetailFill(&pending.Details, fill)
				}
				continue
			}

			ticket := models.Ticket{
				EventID:  opts.EventID,
				Code:     code,
				Sector:   sector,
				Status:   models.TicketAvailable,
				Source:   opts.Source,
				SourceID: opts.SourceID,
				Details:  extractDetails(fields),
			}
			if incomingUsed {
				ticket.Status = models.TicketUsed
				ticket.UsedAt = incomingUsedAt
			}
			plan.ToInsert = append(plan.ToInsert, ticket)
			addedThisPass[code] = len(plan.ToInsert) - 1
			plan.Stats.New++
			continue
		}

		plan.Stats.Existing++

		update := TicketUpdate{Code: code}
		changed := false

		if incomingUsed && current.Status != models.TicketUsed {
			update.MarkUsed = true
			update.UsedAt = incomingUsedAt
			plan.Stats.Updated++
			changed = true
		}

		if fill := detailFill(current.Details, fields); len(fill) > 0 {
			update.FillDetails = fill
			changed = true
		}

		if changed {
			plan.ToUpdate = append(plan.ToUpdate, update)
			// Upgrades and fills are visible to later duplicates of
			// the same code within this pass.
			if update.MarkUsed {
				current.Status = models.TicketUsed
				current.UsedAt = update.UsedAt
			}
			applyDetailFill(&current.Details, update.FillDetails)
		}
	}

	plan.Sectors = make([]string, 0, len(sectorSet))
	for sector := range sectorSet {
		plan.Sectors = append(plan.Sectors, sector)
	}
	sort.Strings(plan.Sectors)

	return plan
}

// normalizeKeys lowercases record keys so alias lookups are
// case-insensitive across vendors.
func normalizeKeys(rec models.RawRecord) map[string]any {
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		fields[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return fields
}

func firstNonEmpty(fields map[string]any, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := fields[alias]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// stringify renders a raw feed value as a string. JSON numbers arrive
// as float64; integral codes must not pick up a ".0" suffix.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// usedState decides whether the record marks its ticket as already
// checked in: a dedicated checkins feed always does, otherwise an
// explicit used flag, a used-like status value or a check-in timestamp.
// The returned time falls back to opts.Now when the record carries no
// parseable timestamp.
func usedState(fields map[string]any, opts ReconcileOptions) (bool, *time.Time) {
	used := opts.Type == models.SourceTypeCheckins

	if !used {
		for _, alias := range usedFlagAliases {
			if v, ok := fields[alias]; ok {
				if b, isBool := v.(bool); isBool && b {
					used = true
					break
				}
				if s := strings.ToLower(stringify(v)); s == "true" || s == "1" || s == "yes" {
					used = true
					break
				}
			}
		}
	}

	if !used {
		if status := strings.ToLower(firstNonEmpty(fields, statusAliases)); usedStatusValues[status] {
			used = true
		}
	}

	usedAt := parseUsedAt(fields)
	if !used && usedAt != nil {
		used = true
	}
	if !used {
		return false, nil
	}
	if usedAt == nil {
		now := opts.Now
		usedAt = &now
	}
	return true, usedAt
}

func parseUsedAt(fields map[string]any) *time.Time {
	for _, alias := range usedAtAliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if ts := parseTimestamp(v); ts != nil {
			return ts
		}
	}
	return nil
}

// parseTimestamp accepts epoch seconds, epoch milliseconds and the
// common wire date layouts.
func parseTimestamp(v any) *time.Time {
	switch val := v.(type) {
	case float64:
		return epochToTime(int64(val))
	case int64:
		return epochToTime(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(epoch)
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func epochToTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	var t time.Time
	if epoch > 1_000_000_000_000 {
		t = time.UnixMilli(epoch)
	} else {
		t = time.Unix(epoch, 0)
	}
	return &t
}

func extractDetails(fields map[string]any) models.TicketDetails {
	return models.TicketDetails{
		OwnerName: firstNonEmpty(fields, nameAliases),
		Email:     firstNonEmpty(fields, emailAliases),
		Phone:     firstNonEmpty(fields, phoneAliases),
		Document:  firstNonEmpty(fields, docAliases),
	}
}

// detailFill returns the detail columns the incoming record can fill
// on the stored ticket. Stored non-empty values always win; a skipped
// no-downgrade update is never destructive.
func detailFill(current models.TicketDetails, fields map[string]any) map[string]string {
	incoming := extractDetails(fields)
	fill := make(map[string]string)
	if current.OwnerName == "" && incoming.OwnerName != "" {
		fill["owner_name"] = incoming.OwnerName
	}
	if current.Email == "" && incoming.Email != "" {
		fill["email"] = incoming.Email
	}
	if current.Phone == "" && incoming.Phone != "" {
		fill["phone"] = incoming.Phone
	}
	if current.Document == "" && incoming.Document != "" {
		fill["document"] = incoming.Document
	}
	if len(fill) == 0 {
		return nil
	}
	return fill
}

func applyDetailFill(details *models.TicketDetails, fill map[string]string) {
	for column, value := range fill {
		switch column {
		case "owner_name":
			details.OwnerName = value
		case "email":
			details.Email = value
		case "phone":
			details.Phone = value
		case "document":
			details.Document = value
		}
	}
}

// UnionSectors merges newly discovered sector names into the configured
// list, sorted lexicographically.
func UnionSectors(configured, discovered []string) []string {
	seen := make(map[string]bool, len(configured)+len(discovered))
	merged := make([]string, 0, len(configured)+len(discovered))
	for _, lists := range [][]string{configured, discovered} {
		for _, sector := range lists {
			if sector == "" || seen[sector] {
				continue
			}
			seen[sector] = true
			merged = append(merged, sector)
		}
	}
	sort.Strings(merged)
	return merged
}
