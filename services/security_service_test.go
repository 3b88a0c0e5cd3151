package services

import (
	"testing"
	"time"

	"checkin-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() SecurityThresholds {
	return SecurityThresholds{
		OperatorMinAttempts: 5,
		OperatorErrorCutoff: 0.15,
		DeviceMinAttempts:   10,
	}
}

func logEntry(code string, status models.ScanStatus, operator, device string) models.ScanLogEntry {
	return models.ScanLogEntry{
		EventID:    "evt1",
		TicketCode: code,
		Status:     status,
		Timestamp:  time.Date(2025, 8, 15, 21, 0, 0, 0, time.UTC),
		Operator:   operator,
		DeviceID:   device,
	}
}

func TestAnalyze_EmptyLog(t *testing.T) {
	report := Analyze(nil, defaultThresholds())

	assert.Empty(t, report.DuplicateTickets)
	assert.Empty(t, report.SuspiciousOperators)
	assert.Empty(t, report.HotDevices)
}

func TestAnalyze_DuplicateTickets(t *testing.T) {
	// T1 scanned three times: one valid entry then two rejections
	// against an already-used ticket.
	log := []models.ScanLogEntry{
		logEntry("T1", models.ScanValid, "ana", "gate-1"),
		logEntry("T1", models.ScanUsed, "ana", "gate-1"),
		logEntry("T1", models.ScanUsed, "bruno", "gate-2"),
		logEntry("T2", models.ScanValid, "ana", "gate-1"),
	}

	report := Analyze(log, defaultThresholds())

	require.Len(t, report.DuplicateTickets, 1)
	dup := report.DuplicateTickets[0]
	assert.Equal(t, "T1", dup.TicketCode)
	assert.Equal(t, 2, dup.Count)
	assert.Equal(t, []string{"ana", "bruno"}, dup.Operators)
	assert.Equal(t, []string{"gate-1", "gate-2"}, dup.Devices)
}

func TestAnalyze_SingleRejectionIsNotDuplicate(t *testing.T) {
	log := []models.ScanLogEntry{
		logEntry("T1", models.ScanValid, "ana", "gate-1"),
		logEntry("T1", models.ScanUsed, "ana", "gate-1"),
	}

	report := Analyze(log, defaultThresholds())

	assert.Empty(t, report.DuplicateTickets)
}

func TestAnalyze_DuplicatesSortedByCountThenCode(t *testing.T) {
	log := []models.ScanLogEntry{
		logEntry("B", models.ScanUsed, "ana", "gate-1"),
		logEntry("B", models.ScanUsed, "ana", "gate-1"),
		logEntry("A", models.ScanUsed, "ana", "gate-1"),
		logEntry("A", models.ScanUsed, "ana", "gate-1"),
		logEntry("C", models.ScanUsed, "ana", "gate-1"),
		logEntry("C", models.ScanUsed, "ana", "gate-1"),
		logEntry("C", models.ScanUsed, "ana", "gate-1"),
	}

	report := Analyze(log, defaultThresholds())

	require.Len(t, report.DuplicateTickets, 3)
	assert.Equal(t, "C", report.DuplicateTickets[0].TicketCode)
	assert.Equal(t, "A", report.DuplicateTickets[1].TicketCode)
	assert.Equal(t, "B", report.DuplicateTickets[2].TicketCode)
}

func TestAnalyze_SuspiciousOperator(t *testing.T) {
	// 6 attempts, 2 errors: above both the attempt floor and the 15%
	// error cutoff.
	log := []models.ScanLogEntry{
		logEntry("T1", models.ScanValid, "ana", ""),
		logEntry("T2", models.ScanValid, "ana", ""),
		logEntry("T3", models.ScanValid, "ana", ""),
		logEntry("T4", models.ScanValid, "ana", ""),
		logEntry("X1", models.ScanInvalid, "ana", ""),
		logEntry("T1", models.ScanUsed, "ana", ""),
	}

	report := Analyze(log, defaultThresholds())

	require.Len(t, report.SuspiciousOperators, 1)
	op := report.SuspiciousOperators[0]
	assert.Equal(t, "ana", op.Operator)
	assert.Equal(t, 6, op.Attempts)
	assert.Equal(t, 2, op.Errors)
	assert.InDelta(t, 1.0/3.0, op.ErrorRate, 1e-9)
}

func TestAnalyze_OperatorBelowAttemptFloorIgnored(t *testing.T) {
	// 100% error rate but only 3 attempts.
	log := []models.ScanLogEntry{
		logEntry("X1", models.ScanInvalid, "bruno", ""),
		logEntry("X2", models.ScanInvalid, "bruno", ""),
		logEntry("X3", models.ScanInvalid, "bruno", ""),
	}

	report := Analyze(log, defaultThresholds())

	assert.Empty(t, report.SuspiciousOperators)
}

func TestAnalyze_OperatorAtCutoffIgnored(t *testing.T) {
	// Exactly 15% must not be flagged, the cutoff is strict.
	log := make([]models.ScanLogEntry, 0, 20)
	for i := 0; i < 17; i++ {
		log = append(log, logEntry("T1", models.ScanValid, "ana", ""))
	}
	for i := 0; i < 3; i++ {
		log = append(log, logEntry("X1", models.ScanInvalid, "ana", ""))
	}

	report := Analyze(log, defaultThresholds())

	assert.Empty(t, report.SuspiciousOperators)
}

func TestAnalyze_WrongSectorDoesNotCountAgainstOperator(t *testing.T) {
	// Redirecting someone to their own gate is not an operator error.
	log := []models.ScanLogEntry{
		logEntry("T1", models.ScanValid, "ana", ""),
		logEntry("T2", models.ScanWrongSector, "ana", ""),
		logEntry("T3", models.ScanWrongSector, "ana", ""),
		logEntry("T4", models.ScanWrongSector, "ana", ""),
		logEntry("T5", models.ScanWrongSector, "ana", ""),
		logEntry("T6", models.ScanWrongSector, "ana", ""),
	}

	report := Analyze(log, defaultThresholds())

	assert.Empty(t, report.SuspiciousOperators)
}

func TestAnalyze_HotDevices(t *testing.T) {
	log := make([]models.ScanLogEntry, 0, 12)
	for i := 0; i < 8; i++ {
		log = append(log, logEntry("T1", models.ScanValid, "", "gate-1"))
	}
	for i := 0; i < 3; i++ {
		log = append(log, logEntry("X1", models.ScanInvalid, "", "gate-1"))
	}

	report := Analyze(log, defaultThresholds())

	require.Len(t, report.HotDevices, 1)
	dev := report.HotDevices[0]
	assert.Equal(t, "gate-1", dev.DeviceID)
	assert.Equal(t, 11, dev.Attempts)
	assert.Equal(t, 3, dev.Errors)
}

func TestAnalyze_DeviceAtAttemptFloorIgnored(t *testing.T) {
	log := make([]models.ScanLogEntry, 0, 10)
	for i := 0; i < 10; i++ {
		log = append(log, logEntry("X1", models.ScanInvalid, "", "gate-1"))
	}

	report := Analyze(log, defaultThresholds())

	assert.Empty(t, report.HotDevices)
}

func TestAnalyze_Stateless(t *testing.T) {
	log := []models.ScanLogEntry{
		logEntry("T1", models.ScanUsed, "ana", "gate-1"),
		logEntry("T1", models.ScanUsed, "ana", "gate-1"),
	}

	first := Analyze(log, defaultThresholds())
	second := Analyze(log, defaultThresholds())

	assert.Equal(t, first, second)
}
