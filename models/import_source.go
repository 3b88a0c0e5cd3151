package models

import (
	"time"
)

type SourceType string

const (
	SourceTypeTickets      SourceType = "tickets"
	SourceTypeParticipants SourceType = "participants"
	SourceTypeBuyers       SourceType = "buyers"
	SourceTypeCheckins     SourceType = "checkins"
	SourceTypeGoogleSheets SourceType = "google_sheets"
)

// Source tags recorded on ticket records to mark their origin.
const (
	SourceImport   = "import"
	SourceCSV      = "csv"
	SourceManual   = "manual"
	SourceLocator  = "locator"
	SourceAlert    = "alert"
	SourceCheckins = "checkins"
	SourceSheets   = "sheets"
)

// ImportSource is one configured external feed.
type ImportSource struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Token          string     `json:"token"`
	Type           SourceType `json:"type"`
	AutoImport     bool       `json:"auto_import"`
	LastImportTime *time.Time `json:"last_import_time,omitempty"`
	LastStatus     string     `json:"last_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// SourceTag maps the feed type to the source tag stamped on tickets it
// creates.
func (s *ImportSource) SourceTag() string {
	switch s.Type {
	case SourceTypeCheckins:
		return SourceCheckins
	case SourceTypeGoogleSheets:
		return SourceSheets
	default:
		return SourceImport
	}
}

// RawRecord is one incoming row before normalization. Values keep the
// shapes vendors send: strings, numbers, bools, nested timestamps.
type RawRecord map[string]any

// ReconcileStats summarizes one reconciliation pass. Records without a
// resolvable code are skipped and do not count toward any field.
type ReconcileStats struct {
	New      int `json:"new"`
	Existing int `json:"existing"`
	Updated  int `json:"updated"`
}
