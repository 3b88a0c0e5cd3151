package services

import (
	"testing"
	"time"

	"checkin-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconcileNow() time.Time {
	return time.Date(2025, 8, 15, 20, 0, 0, 0, time.UTC)
}

func TestReconcile_NewRecordsInserted(t *testing.T) {
	incoming := []models.RawRecord{
		{"code": "T1", "sector": "VIP", "name": "Ana"},
		{"code": "T2", "sector": "Pista"},
	}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 2)
	assert.Empty(t, plan.ToUpdate)
	assert.Equal(t, 2, plan.Stats.New)
	assert.Equal(t, 0, plan.Stats.Existing)
	assert.Equal(t, 0, plan.Stats.Updated)

	assert.Equal(t, "T1", plan.ToInsert[0].Code)
	assert.Equal(t, "VIP", plan.ToInsert[0].Sector)
	assert.Equal(t, models.TicketAvailable, plan.ToInsert[0].Status)
	assert.Equal(t, "Ana", plan.ToInsert[0].Details.OwnerName)
	assert.Equal(t, []string{"Pista", "VIP"}, plan.Sectors)
}

func TestReconcile_InPassDuplicateInsertsOnce(t *testing.T) {
	incoming := []models.RawRecord{
		{"code": "T1", "sector": "VIP"},
		{"code": "T1", "sector": "Pista"},
	}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, "VIP", plan.ToInsert[0].Sector)
	assert.Equal(t, 1, plan.Stats.New)
	assert.Equal(t, 1, plan.Stats.Existing)
}

func TestReconcile_InPassDuplicateKeepsUsedState(t *testing.T) {
	incoming := []models.RawRecord{
		{"code": "T1", "sector": "VIP", "name": "Ana"},
		{"code": "T1", "used": true, "email": "ana@example.com"},
	}
	opts := ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	}

	plan := Reconcile(nil, incoming, opts)

	require.Len(t, plan.ToInsert, 1)
	assert.Empty(t, plan.ToUpdate)
	assert.Equal(t, models.TicketUsed, plan.ToInsert[0].Status)
	require.NotNil(t, plan.ToInsert[0].UsedAt)
	// The duplicate also fills details the first occurrence left blank.
	assert.Equal(t, "Ana", plan.ToInsert[0].Details.OwnerName)
	assert.Equal(t, "ana@example.com", plan.ToInsert[0].Details.Email)
	assert.Equal(t, 1, plan.Stats.New)
	assert.Equal(t, 1, plan.Stats.Existing)

	// Applying the plan and replaying the same input must be a no-op,
	// otherwise every rerun would re-mark the ticket.
	existing := append([]models.Ticket(nil), plan.ToInsert...)
	second := Reconcile(existing, incoming, opts)
	assert.Empty(t, second.ToInsert)
	assert.Empty(t, second.ToUpdate)
	assert.Equal(t, 0, second.Stats.New)
	assert.Equal(t, 0, second.Stats.Updated)
}

func TestReconcile_Idempotent(t *testing.T) {
	incoming := []models.RawRecord{
		{"code": "T1", "sector": "VIP", "name": "Ana", "used": true},
		{"code": "T2", "sector": "Pista"},
	}
	opts := ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	}

	first := Reconcile(nil, incoming, opts)
	require.Len(t, first.ToInsert, 2)

	// Apply the first plan and run the same pass again.
	existing := append([]models.Ticket(nil), first.ToInsert...)
	second := Reconcile(existing, incoming, opts)

	assert.Empty(t, second.ToInsert)
	assert.Empty(t, second.ToUpdate)
	assert.Equal(t, 0, second.Stats.New)
	assert.Equal(t, 2, second.Stats.Existing)
	assert.Equal(t, 0, second.Stats.Updated)
}

func TestReconcile_NeverDowngradesUsed(t *testing.T) {
	usedAt := time.Date(2025, 8, 15, 19, 0, 0, 0, time.UTC)
	existing := []models.Ticket{
		{EventID: "evt1", Code: "T1", Sector: "VIP", Status: models.TicketUsed, UsedAt: &usedAt},
	}
	incoming := []models.RawRecord{
		{"code": "T1", "sector": "VIP", "used": false, "status": "available"},
	}

	plan := Reconcile(existing, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	assert.Empty(t, plan.ToInsert)
	assert.Empty(t, plan.ToUpdate)
	assert.Equal(t, 1, plan.Stats.Existing)
	assert.Equal(t, 0, plan.Stats.Updated)
}

func TestReconcile_UpgradesToUsed(t *testing.T) {
	existing := []models.Ticket{
		{EventID: "evt1", Code: "T1", Sector: "VIP", Status: models.TicketAvailable},
	}
	incoming := []models.RawRecord{
		{"code": "T1", "checked_in": true, "checkin_time": "2025-08-15 19:30:00"},
	}

	plan := Reconcile(existing, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToUpdate, 1)
	assert.True(t, plan.ToUpdate[0].MarkUsed)
	require.NotNil(t, plan.ToUpdate[0].UsedAt)
	assert.Equal(t, 19, plan.ToUpdate[0].UsedAt.Hour())
	assert.Equal(t, 1, plan.Stats.Updated)
}

func TestReconcile_CheckinsFeedAlwaysMarksUsed(t *testing.T) {
	existing := []models.Ticket{
		{EventID: "evt1", Code: "T1", Status: models.TicketAvailable},
	}
	incoming := []models.RawRecord{
		{"code": "T1"},
	}

	plan := Reconcile(existing, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceCheckins,
		Type:    models.SourceTypeCheckins,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToUpdate, 1)
	assert.True(t, plan.ToUpdate[0].MarkUsed)
	require.NotNil(t, plan.ToUpdate[0].UsedAt)
	// No timestamp on the record, falls back to the pass time.
	assert.Equal(t, reconcileNow(), *plan.ToUpdate[0].UsedAt)
}

func TestReconcile_FieldAliases(t *testing.T) {
	incoming := []models.RawRecord{
		{"Codigo": "T1", "Setor": "Camarote", "Nome": "Bruno", "Telefone": "5511999", "CPF": "123456"},
		{"qr_code": "T2", "categoria": "Pista", "buyer_email": "x@y.com"},
		{"id": float64(12345), "lote": "Lote 2"},
	}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 3)
	assert.Equal(t, "T1", plan.ToInsert[0].Code)
	assert.Equal(t, "Camarote", plan.ToInsert[0].Sector)
	assert.Equal(t, "Bruno", plan.ToInsert[0].Details.OwnerName)
	assert.Equal(t, "5511999", plan.ToInsert[0].Details.Phone)
	assert.Equal(t, "123456", plan.ToInsert[0].Details.Document)

	assert.Equal(t, "T2", plan.ToInsert[1].Code)
	assert.Equal(t, "x@y.com", plan.ToInsert[1].Details.Email)

	// Numeric feed ids must not come out as "12345.0".
	assert.Equal(t, "12345", plan.ToInsert[2].Code)
	assert.Equal(t, "Lote 2", plan.ToInsert[2].Sector)
}

func TestReconcile_SkipsRecordsWithoutCode(t *testing.T) {
	incoming := []models.RawRecord{
		{"sector": "VIP", "name": "sem codigo"},
		{"code": ""},
		{"code": "T1"},
	}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, 1, plan.Stats.New)
	assert.Equal(t, 0, plan.Stats.Existing)
}

func TestReconcile_DefaultSector(t *testing.T) {
	plan := Reconcile(nil, []models.RawRecord{{"code": "T1"}}, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, DefaultSector, plan.ToInsert[0].Sector)
	assert.Equal(t, []string{DefaultSector}, plan.Sectors)
}

func TestReconcile_DetailFillIsAppendOnly(t *testing.T) {
	existing := []models.Ticket{
		{
			EventID: "evt1",
			Code:    "T1",
			Status:  models.TicketAvailable,
			Details: models.TicketDetails{OwnerName: "Ana", Email: ""},
		},
	}
	incoming := []models.RawRecord{
		{"code": "T1", "name": "Outro Nome", "email": "ana@example.com"},
	}

	plan := Reconcile(existing, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToUpdate, 1)
	fill := plan.ToUpdate[0].FillDetails
	assert.Equal(t, "ana@example.com", fill["email"])
	// Stored non-empty values win.
	_, overwrote := fill["owner_name"]
	assert.False(t, overwrote)
	// A pure detail fill is not counted as an upgrade.
	assert.Equal(t, 0, plan.Stats.Updated)
}

func TestReconcile_EpochTimestamps(t *testing.T) {
	incoming := []models.RawRecord{
		{"code": "T1", "used_at": float64(1755288000)},
		{"code": "T2", "used_at": float64(1755288000000)},
	}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceImport,
		Now:     reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 2)
	want := time.Unix(1755288000, 0)
	assert.Equal(t, models.TicketUsed, plan.ToInsert[0].Status)
	assert.True(t, plan.ToInsert[0].UsedAt.Equal(want))
	assert.True(t, plan.ToInsert[1].UsedAt.Equal(want))
}

func TestReconcile_StampsSourceRecordID(t *testing.T) {
	incoming := []models.RawRecord{{"code": "T1"}}

	plan := Reconcile(nil, incoming, ReconcileOptions{
		EventID:  "evt1",
		Source:   "sympla",
		SourceID: "src_rec_1",
		Now:      reconcileNow(),
	})

	require.Len(t, plan.ToInsert, 1)
	assert.Equal(t, "src_rec_1", plan.ToInsert[0].SourceID)

	// CSV uploads carry no source record, the stamp stays empty.
	csvPlan := Reconcile(nil, incoming, ReconcileOptions{
		EventID: "evt1",
		Source:  models.SourceCSV,
		Now:     reconcileNow(),
	})
	require.Len(t, csvPlan.ToInsert, 1)
	assert.Empty(t, csvPlan.ToInsert[0].SourceID)
}

func TestUnionSectors(t *testing.T) {
	merged := UnionSectors([]string{"VIP", "Pista"}, []string{"Camarote", "VIP", ""})
	assert.Equal(t, []string{"Camarote", "Pista", "VIP"}, merged)

	// Unioning the same discovery again changes nothing.
	again := UnionSectors(merged, []string{"Camarote"})
	assert.Equal(t, merged, again)
}
