package services

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"checkin-system/config"
	"checkin-system/models"

	"github.com/shopspring/decimal"
)

type StatsService struct {
	Store  *RecordStore
	Config *config.Config
}

func NewStatsService(store *RecordStore, cfg *config.Config) *StatsService {
	return &StatsService{Store: store, Config: cfg}
}

// Dashboard loads the current snapshot for an event and aggregates it.
func (s *StatsService) Dashboard(ctx context.Context, eventID string, mode models.AggregationMode, sectorFilter map[string]bool) (AggregateResult, error) {
	tickets, err := s.Store.ListTickets(ctx, eventID)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("load tickets: %w", err)
	}

	groups, err := s.Store.ListGroups(ctx, eventID)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("load groups: %w", err)
	}

	return Aggregate(tickets, AggregateOptions{
		Mode:         mode,
		Groups:       groups,
		SectorFilter: sectorFilter,
		Location:     s.Config.Location(),
		BucketWidth:  s.Config.TimeBucketWidth,
	}), nil
}

// Summary is the headline card of the dashboard. Percentage is rendered
// with one decimal place, and "0.0" whenever Total is zero.
type Summary struct {
	Total      int    `json:"total"`
	Scanned    int    `json:"scanned"`
	Remaining  int    `json:"remaining"`
	Percentage string `json:"percentage"`
}

// SectorRow is one row of the per-sector (or per-group) table.
type SectorRow struct {
	Name       string `json:"name"`
	Group      bool   `json:"group"`
	Total      int    `json:"total"`
	Scanned    int    `json:"scanned"`
	Remaining  int    `json:"remaining"`
	Percentage string `json:"percentage"`
}

// TimeBucket is one fixed-width entry window keyed by the local
// wall-clock start of the window ("14:30").
type TimeBucket struct {
	Key    string         `json:"time"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// Histogram holds the entry buckets ordered by key ascending. All is a
// restartable pass over them.
type Histogram struct {
	buckets []TimeBucket
}

func (h *Histogram) All() iter.Seq[TimeBucket] {
	return func(yield func(TimeBucket) bool) {
		for _, b := range h.buckets {
			if !yield(b) {
				return
			}
		}
	}
}

func (h *Histogram) Len() int { return len(h.buckets) }

func (h *Histogram) Buckets() []TimeBucket { return h.buckets }

// Peak returns the bucket with the highest total, the earliest one on a
// tie, or nil for an empty histogram.
func (h *Histogram) Peak() *TimeBucket {
	var peak *TimeBucket
	for i := range h.buckets {
		if peak == nil || h.buckets[i].Total > peak.Total {
			peak = &h.buckets[i]
		}
	}
	return peak
}

// AggregateResult bundles everything a dashboard view needs.
type AggregateResult struct {
	Summary     Summary
	Rows        []SectorRow
	Histogram   Histogram
	FirstAccess *time.Time
	LastAccess  *time.Time
}

// AggregateOptions configure one aggregation run.
type AggregateOptions struct {
	Mode models.AggregationMode

	// Groups in configured order; the first group claiming a sector
	// wins when the configuration overlaps.
	Groups []models.SectorGroup

	// SectorFilter restricts aggregation to the named sectors. Nil or
	// empty means all sectors.
	SectorFilter map[string]bool

	Location    *time.Location
	BucketWidth time.Duration
}

// countsInTotal applies the summary counting rule: standby tickets
// never count, used tickets always count, available tickets count
// unless their source marks them as not-yet-claimed placeholders.
func countsInTotal(t *models.Ticket) bool {
	if t.Status == models.TicketStandby {
		return false
	}
	if t.Status == models.TicketUsed {
		return true
	}
	return models.PolicyFor(t.Source).CountsWhenAvailable
}

// Aggregate computes the dashboard views from a ticket snapshot. It is
// deterministic: the same snapshot and options produce identical
// output, and it never consults the clock.
func Aggregate(tickets []models.Ticket, opts AggregateOptions) AggregateResult {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = 30 * time.Minute
	}

	result := AggregateResult{}

	type rowAccum struct {
		total   int
		scanned int
		group   bool
	}
	rows := make(map[string]*rowAccum)
	buckets := make(map[string]*TimeBucket)

	for i := range tickets {
		t := &tickets[i]
		if len(opts.SectorFilter) > 0 && !opts.SectorFilter[t.Sector] {
			continue
		}

		display, isGroup := displayName(t.Sector, opts)

		if countsInTotal(t) {
			result.Summary.Total++
			row, ok := rows[display]
			if !ok {
				row = &rowAccum{group: isGroup}
				rows[display] = row
			}
			row.total++
			if t.Status == models.TicketUsed {
				result.Summary.Scanned++
				row.scanned++
			}
		}

		if t.Status != models.TicketUsed || t.UsedAt == nil {
			continue
		}

		usedAt := *t.UsedAt
		if result.FirstAccess == nil || usedAt.Before(*result.FirstAccess) {
			first := usedAt
			result.FirstAccess = &first
		}
		if result.LastAccess == nil || usedAt.After(*result.LastAccess) {
			last := usedAt
			result.LastAccess = &last
		}

		key := bucketKey(usedAt, opts.Location, opts.BucketWidth)
		bucket, ok := buckets[key]
		if !ok {
			bucket = &TimeBucket{Key: key, Counts: make(map[string]int)}
			buckets[key] = bucket
		}
		bucket.Total++
		bucket.Counts[display]++
	}

	result.Summary.Remaining = result.Summary.Total - result.Summary.Scanned
	if result.Summary.Remaining < 0 {
		result.Summary.Remaining = 0
	}
	result.Summary.Percentage = percentage(result.Summary.Scanned, result.Summary.Total)

	result.Rows = make([]SectorRow, 0, len(rows))
	for name, accum := range rows {
		result.Rows = append(result.Rows, SectorRow{
			Name:       name,
			Group:      accum.group,
			Total:      accum.total,
			Scanned:    accum.scanned,
			Remaining:  accum.total - accum.scanned,
			Percentage: percentage(accum.scanned, accum.total),
		})
	}
	sort.Slice(result.Rows, func(i, j int) bool {
		if result.Rows[i].Group != result.Rows[j].Group {
			return result.Rows[i].Group
		}
		return result.Rows[i].Name < result.Rows[j].Name
	})

	result.Histogram.buckets = make([]TimeBucket, 0, len(buckets))
	for _, bucket := range buckets {
		result.Histogram.buckets = append(result.Histogram.buckets, *bucket)
	}
	sort.Slice(result.Histogram.buckets, func(i, j int) bool {
		return result.Histogram.buckets[i].Key < result.Histogram.buckets[j].Key
	})

	return result
}

// displayName resolves the table/histogram label for a sector: in
// grouped mode the first configured group claiming the sector, else the
// sector itself.
func displayName(sector string, opts AggregateOptions) (string, bool) {
	if opts.Mode != models.ModeGrouped {
		return sector, false
	}
	for i := range opts.Groups {
		if opts.Groups[i].Contains(sector) {
			return opts.Groups[i].Name, true
		}
	}
	return sector, false
}

// bucketKey truncates a timestamp to its bucket start in local
// wall-clock time-of-day.
func bucketKey(t time.Time, loc *time.Location, width time.Duration) string {
	local := t.In(loc)
	widthMin := int(width.Minutes())
	if widthMin <= 0 {
		widthMin = 30
	}
	minuteOfDay := local.Hour()*60 + local.Minute()
	start := (minuteOfDay / widthMin) * widthMin
	return fmt.Sprintf("%02d:%02d", start/60, start%60)
}

// percentage renders scanned/total with one decimal place. Never
// divides by zero.
func percentage(scanned, total int) string {
	if total == 0 {
		return "0.0"
	}
	return decimal.NewFromInt(int64(scanned) * 100).
		Div(decimal.NewFromInt(int64(total))).
		StringFixed(1)
}
