package models

import (
	"time"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketUsed      TicketStatus = "used"
	TicketStandby   TicketStatus = "standby"
)

// TicketDetails carries the optional owner information attached to a
// ticket record. All fields may be empty for bulk-imported tickets.
type TicketDetails struct {
	OwnerName    string `json:"owner_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Document     string `json:"document,omitempty"`
	AlertMessage string `json:"alert_message,omitempty"`
}

// Ticket is one admission record. Code is the scanned value and is
// unique within an event; once Status is used, UsedAt is set and never
// cleared again.
type Ticket struct {
	ID      string        `json:"id"`
	EventID string        `json:"event_id"`
	Code    string        `json:"code"`
	Sector  string        `json:"sector"`
	Status  TicketStatus  `json:"status"`
	UsedAt  *time.Time    `json:"used_at,omitempty"`
	Source  string        `json:"source"`

	// SourceID is the import_sources record that created the ticket,
	// empty for tickets added by hand or by CSV upload. Purging a feed
	// filters on it so two feeds sharing a source tag stay separable.
	SourceID string `json:"source_id,omitempty"`

	Details TicketDetails `json:"details"`
}

// IsUsed reports whether the ticket has reached its terminal state.
func (t *Ticket) IsUsed() bool {
	return t.Status == TicketUsed
}
