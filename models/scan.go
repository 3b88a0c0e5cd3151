package models

import (
	"time"
)

type ScanStatus string

const (
	ScanValid         ScanStatus = "valid"
	ScanUsed          ScanStatus = "used"
	ScanInvalid       ScanStatus = "invalid"
	ScanError         ScanStatus = "error"
	ScanWrongSector   ScanStatus = "wrong_sector"
	ScanAlertRequired ScanStatus = "alert_required"
)

// ScanLogEntry is one scan attempt. Entries are append-only; every
// attempt produces exactly one entry regardless of outcome.
type ScanLogEntry struct {
	EventID    string     `json:"event_id"`
	TicketCode string     `json:"ticket_code"`
	Status     ScanStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	DeviceID   string     `json:"device_id"`
	Operator   string     `json:"operator"`
}

// ScanResult is what the validator hands back to the operator device.
type ScanResult struct {
	Status       ScanStatus `json:"status"`
	TicketCode   string     `json:"ticket_code"`
	Sector       string     `json:"sector,omitempty"`
	OwnerName    string     `json:"owner_name,omitempty"`
	AlertMessage string     `json:"alert_message,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}
