package services

import (
	"testing"
	"time"

	"checkin-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usedTicket(code, sector string, usedAt time.Time) models.Ticket {
	return models.Ticket{
		Code:   code,
		Sector: sector,
		Status: models.TicketUsed,
		UsedAt: &usedAt,
		Source: models.SourceImport,
	}
}

func availableTicket(code, sector string) models.Ticket {
	return models.Ticket{
		Code:   code,
		Sector: sector,
		Status: models.TicketAvailable,
		Source: models.SourceImport,
	}
}

func TestAggregate_Summary(t *testing.T) {
	usedAt := time.Date(2025, 8, 15, 21, 10, 0, 0, time.UTC)
	tickets := []models.Ticket{
		availableTicket("T1", "VIP"),
		usedTicket("T2", "VIP", usedAt),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Scanned)
	assert.Equal(t, 1, result.Summary.Remaining)
	assert.Equal(t, "50.0", result.Summary.Percentage)
}

func TestAggregate_EmptySnapshot(t *testing.T) {
	result := Aggregate(nil, AggregateOptions{Location: time.UTC})

	assert.Equal(t, 0, result.Summary.Total)
	assert.Equal(t, "0.0", result.Summary.Percentage)
	assert.Empty(t, result.Rows)
	assert.Equal(t, 0, result.Histogram.Len())
	assert.Nil(t, result.Histogram.Peak())
	assert.Nil(t, result.FirstAccess)
	assert.Nil(t, result.LastAccess)
}

func TestAggregate_StandbyExcluded(t *testing.T) {
	usedAt := time.Date(2025, 8, 15, 21, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		availableTicket("T1", "VIP"),
		{Code: "T2", Sector: "VIP", Status: models.TicketStandby, Source: models.SourceImport},
		usedTicket("T3", "VIP", usedAt),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Scanned)
}

func TestAggregate_LocatorCountsOnlyWhenUsed(t *testing.T) {
	usedAt := time.Date(2025, 8, 15, 21, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		// Unclaimed locator placeholder, invisible to the totals.
		{Code: "L1", Sector: "VIP", Status: models.TicketAvailable, Source: models.SourceLocator},
		// Claimed locator, counts like any other used ticket.
		{Code: "L2", Sector: "VIP", Status: models.TicketUsed, UsedAt: &usedAt, Source: models.SourceLocator},
		availableTicket("T1", "VIP"),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	assert.Equal(t, 2, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Scanned)
}

func TestAggregate_RawRowsSortedLexicographically(t *testing.T) {
	tickets := []models.Ticket{
		availableTicket("T1", "Pista"),
		availableTicket("T2", "Camarote"),
		availableTicket("T3", "VIP"),
	}

	result := Aggregate(tickets, AggregateOptions{Mode: models.ModeRaw, Location: time.UTC})

	require.Len(t, result.Rows, 3)
	assert.Equal(t, "Camarote", result.Rows[0].Name)
	assert.Equal(t, "Pista", result.Rows[1].Name)
	assert.Equal(t, "VIP", result.Rows[2].Name)
}

func TestAggregate_GroupedRowsComeFirst(t *testing.T) {
	groups := []models.SectorGroup{
		{Name: "Arquibancada", Sectors: []string{"Norte", "Sul"}},
	}
	tickets := []models.Ticket{
		availableTicket("T1", "Norte"),
		availableTicket("T2", "Sul"),
		availableTicket("T3", "Camarote"),
	}

	result := Aggregate(tickets, AggregateOptions{
		Mode:     models.ModeGrouped,
		Groups:   groups,
		Location: time.UTC,
	})

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Arquibancada", result.Rows[0].Name)
	assert.True(t, result.Rows[0].Group)
	assert.Equal(t, 2, result.Rows[0].Total)
	assert.Equal(t, "Camarote", result.Rows[1].Name)
	assert.False(t, result.Rows[1].Group)
}

func TestAggregate_FirstGroupClaimsOverlap(t *testing.T) {
	groups := []models.SectorGroup{
		{Name: "Frente", Sectors: []string{"VIP"}},
		{Name: "Premium", Sectors: []string{"VIP", "Camarote"}},
	}
	tickets := []models.Ticket{
		availableTicket("T1", "VIP"),
		availableTicket("T2", "Camarote"),
	}

	result := Aggregate(tickets, AggregateOptions{
		Mode:     models.ModeGrouped,
		Groups:   groups,
		Location: time.UTC,
	})

	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Frente", result.Rows[0].Name)
	assert.Equal(t, 1, result.Rows[0].Total)
	assert.Equal(t, "Premium", result.Rows[1].Name)
	assert.Equal(t, 1, result.Rows[1].Total)
}

func TestAggregate_SectorFilter(t *testing.T) {
	tickets := []models.Ticket{
		availableTicket("T1", "VIP"),
		availableTicket("T2", "Pista"),
	}

	result := Aggregate(tickets, AggregateOptions{
		SectorFilter: map[string]bool{"VIP": true},
		Location:     time.UTC,
	})

	assert.Equal(t, 1, result.Summary.Total)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "VIP", result.Rows[0].Name)
}

func TestAggregate_HistogramBucketsLocalWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 17:44 and 17:59 UTC land in the same 14:30 local bucket; 18:05
	// UTC starts the next one.
	tickets := []models.Ticket{
		usedTicket("T1", "VIP", time.Date(2025, 8, 15, 17, 44, 0, 0, time.UTC)),
		usedTicket("T2", "VIP", time.Date(2025, 8, 15, 17, 59, 0, 0, time.UTC)),
		usedTicket("T3", "Pista", time.Date(2025, 8, 15, 18, 5, 0, 0, time.UTC)),
	}

	result := Aggregate(tickets, AggregateOptions{
		Location:    loc,
		BucketWidth: 30 * time.Minute,
	})

	buckets := result.Histogram.Buckets()
	require.Len(t, buckets, 2)
	assert.Equal(t, "14:30", buckets[0].Key)
	assert.Equal(t, 2, buckets[0].Total)
	assert.Equal(t, map[string]int{"VIP": 2}, buckets[0].Counts)
	assert.Equal(t, "15:00", buckets[1].Key)
	assert.Equal(t, 1, buckets[1].Total)
}

func TestAggregate_PeakEarliestOnTie(t *testing.T) {
	tickets := []models.Ticket{
		usedTicket("T1", "VIP", time.Date(2025, 8, 15, 20, 10, 0, 0, time.UTC)),
		usedTicket("T2", "VIP", time.Date(2025, 8, 15, 21, 40, 0, 0, time.UTC)),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	peak := result.Histogram.Peak()
	require.NotNil(t, peak)
	assert.Equal(t, "20:00", peak.Key)
	assert.Equal(t, 1, peak.Total)
}

func TestAggregate_FirstAndLastAccess(t *testing.T) {
	first := time.Date(2025, 8, 15, 19, 2, 0, 0, time.UTC)
	last := time.Date(2025, 8, 15, 23, 48, 0, 0, time.UTC)
	tickets := []models.Ticket{
		usedTicket("T2", "VIP", last),
		usedTicket("T1", "VIP", first),
		usedTicket("T3", "Pista", time.Date(2025, 8, 15, 21, 0, 0, 0, time.UTC)),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	require.NotNil(t, result.FirstAccess)
	require.NotNil(t, result.LastAccess)
	assert.True(t, result.FirstAccess.Equal(first))
	assert.True(t, result.LastAccess.Equal(last))
}

func TestHistogram_AllIsRestartable(t *testing.T) {
	tickets := []models.Ticket{
		usedTicket("T1", "VIP", time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC)),
		usedTicket("T2", "VIP", time.Date(2025, 8, 15, 21, 0, 0, 0, time.UTC)),
	}

	result := Aggregate(tickets, AggregateOptions{Location: time.UTC})

	var firstPass []string
	for bucket := range result.Histogram.All() {
		firstPass = append(firstPass, bucket.Key)
	}

	// Early break, then take the sequence again from the start.
	for range result.Histogram.All() {
		break
	}
	var secondPass []string
	for bucket := range result.Histogram.All() {
		secondPass = append(secondPass, bucket.Key)
	}

	assert.Equal(t, []string{"20:00", "21:00"}, firstPass)
	assert.Equal(t, firstPass, secondPass)
}

func TestAggregate_Deterministic(t *testing.T) {
	usedAt := time.Date(2025, 8, 15, 20, 15, 0, 0, time.UTC)
	tickets := []models.Ticket{
		usedTicket("T1", "VIP", usedAt),
		availableTicket("T2", "Pista"),
		availableTicket("T3", "Camarote"),
	}
	opts := AggregateOptions{Location: time.UTC}

	first := Aggregate(tickets, opts)
	second := Aggregate(tickets, opts)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.Histogram.Buckets(), second.Histogram.Buckets())
}
