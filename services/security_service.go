package services

import (
	"context"
	"fmt"
	"sort"

	"checkin-system/config"
	"checkin-system/models"
)

// DuplicateTicket is a ticket whose code was presented again after it
// had already been used.
type DuplicateTicket struct {
	TicketCode string   `json:"ticket_code"`
	Count      int      `json:"count"`
	Operators  []string `json:"operators"`
	Devices    []string `json:"devices"`
}

// OperatorStat flags an operator whose rejection rate is abnormal.
type OperatorStat struct {
	Operator  string  `json:"operator"`
	Attempts  int     `json:"attempts"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

// DeviceStat ranks devices by their share of non-valid outcomes.
type DeviceStat struct {
	DeviceID  string  `json:"device_id"`
	Attempts  int     `json:"attempts"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type SecurityReport struct {
	DuplicateTickets    []DuplicateTicket `json:"duplicate_tickets"`
	SuspiciousOperators []OperatorStat    `json:"suspicious_operators"`
	HotDevices          []DeviceStat      `json:"hot_devices"`
}

// SecurityThresholds gate which operators and devices get reported.
type SecurityThresholds struct {
	OperatorMinAttempts int
	OperatorErrorCutoff float64
	DeviceMinAttempts   int
}

// Analyze recomputes the full report from a scan-log snapshot. It keeps
// no state between calls.
func Analyze(log []models.ScanLogEntry, thresholds SecurityThresholds) SecurityReport {
	report := SecurityReport{
		DuplicateTickets:    []DuplicateTicket{},
		SuspiciousOperators: []OperatorStat{},
		HotDevices:          []DeviceStat{},
	}

	type ticketAccum struct {
		usedCount int
		operators map[string]bool
		devices   map[string]bool
	}
	type rateAccum struct {
		attempts int
		errors   int
	}

	tickets := make(map[string]*ticketAccum)
	operators := make(map[string]*rateAccum)
	devices := make(map[string]*rateAccum)

	for _, entry := range log {
		accum, ok := tickets[entry.TicketCode]
		if !ok {
			accum = &ticketAccum{
				operators: make(map[string]bool),
				devices:   make(map[string]bool),
			}
			tickets[entry.TicketCode] = accum
		}
		if entry.Status == models.ScanUsed {
			accum.usedCount++
			if entry.Operator != "" {
				accum.operators[entry.Operator] = true
			}
			if entry.DeviceID != "" {
				accum.devices[entry.DeviceID] = true
			}
		}

		if entry.Operator != "" {
			op, ok := operators[entry.Operator]
			if !ok {
				op = &rateAccum{}
				operators[entry.Operator] = op
			}
			op.attempts++
			if entry.Status == models.ScanInvalid || entry.Status == models.ScanUsed {
				op.errors++
			}
		}

		if entry.DeviceID != "" {
			dev, ok := devices[entry.DeviceID]
			if !ok {
				dev = &rateAccum{}
				devices[entry.DeviceID] = dev
			}
			dev.attempts++
			if entry.Status != models.ScanValid {
				dev.errors++
			}
		}
	}

	for code, accum := range tickets {
		if accum.usedCount <= 1 {
			continue
		}
		report.DuplicateTickets = append(report.DuplicateTickets, DuplicateTicket{
			TicketCode: code,
			Count:      accum.usedCount,
			Operators:  sortedKeys(accum.operators),
			Devices:    sortedKeys(accum.devices),
		})
	}
	sort.Slice(report.DuplicateTickets, func(i, j int) bool {
		if report.DuplicateTickets[i].Count != report.DuplicateTickets[j].Count {
			return report.DuplicateTickets[i].Count > report.DuplicateTickets[j].Count
		}
		return report.DuplicateTickets[i].TicketCode < report.DuplicateTickets[j].TicketCode
	})

	for name, accum := range operators {
		if accum.attempts <= thresholds.OperatorMinAttempts {
			continue
		}
		rate := float64(accum.errors) / float64(accum.attempts)
		if rate <= thresholds.OperatorErrorCutoff {
			continue
		}
		report.SuspiciousOperators = append(report.SuspiciousOperators, OperatorStat{
			Operator:  name,
			Attempts:  accum.attempts,
			Errors:    accum.errors,
			ErrorRate: rate,
		})
	}
	sort.Slice(report.SuspiciousOperators, func(i, j int) bool {
		if report.SuspiciousOperators[i].ErrorRate != report.SuspiciousOperators[j].ErrorRate {
			return report.SuspiciousOperators[i].ErrorRate > report.SuspiciousOperators[j].ErrorRate
		}
		return report.SuspiciousOperators[i].Operator < report.SuspiciousOperators[j].Operator
	})

	for id, accum := range devices {
		if accum.attempts <= thresholds.DeviceMinAttempts {
			continue
		}
		report.HotDevices = append(report.HotDevices, DeviceStat{
			DeviceID:  id,
			Attempts:  accum.attempts,
			Errors:    accum.errors,
			ErrorRate: float64(accum.errors) / float64(accum.attempts),
		})
	}
	sort.Slice(report.HotDevices, func(i, j int) bool {
		if report.HotDevices[i].ErrorRate != report.HotDevices[j].ErrorRate {
			return report.HotDevices[i].ErrorRate > report.HotDevices[j].ErrorRate
		}
		return report.HotDevices[i].DeviceID < report.HotDevices[j].DeviceID
	})

	return report
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type SecurityService struct {
	Store  *RecordStore
	Config *config.Config
}

func NewSecurityService(store *RecordStore, cfg *config.Config) *SecurityService {
	return &SecurityService{Store: store, Config: cfg}
}

// Report loads the full scan log for an event and analyzes it.
func (s *SecurityService) Report(ctx context.Context, eventID string) (SecurityReport, error) {
	log, err := s.Store.ListScanLog(ctx, eventID)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("load scan log: %w", err)
	}

	return Analyze(log, SecurityThresholds{
		OperatorMinAttempts: s.Config.OperatorMinAttempts,
		OperatorErrorCutoff: s.Config.OperatorErrorCutoff,
		DeviceMinAttempts:   s.Config.DeviceMinAttempts,
	}), nil
}
