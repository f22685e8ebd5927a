// Package query derives read-only views from a snapshot of the ledger.
// Every function here is pure; callers pass a copy of the records.
package query

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"traffic-fines-service/internal/domain/violation"
)

const TimelineLayout = "2006-01-02 15:00"

type Overview struct {
	TotalRecords       int                             `json:"total_records"`
	TotalViolations    int                             `json:"total_violations"`
	TotalNoHelmet      int                             `json:"total_no_helmet"`
	TotalTripleRiding  int                             `json:"total_triple_riding"`
	TotalNoNumberPlate int                             `json:"total_no_number_plate"`
	TotalVehicles      int                             `json:"total_vehicles"`
	TotalPersons       int                             `json:"total_persons"`
	TotalFines         int64                           `json:"total_fines"`
	PendingFines       int64                           `json:"pending_fines"`
	PaidFines          int64                           `json:"paid_fines"`
	ViolationTypes     map[violation.ViolationType]int `json:"violation_types"`
}

func ComputeOverview(records []violation.ViolationRecord) Overview {
	o := Overview{
		TotalRecords:   len(records),
		ViolationTypes: make(map[violation.ViolationType]int, len(violation.AllTypes())),
	}
	for _, t := range violation.AllTypes() {
		o.ViolationTypes[t] = 0
	}

	for _, r := range records {
		o.TotalViolations += r.TotalViolations
		o.TotalVehicles += r.VehicleCount
		o.TotalPersons += r.PersonCount
		o.TotalFines += r.Fines.TotalFines
		o.PendingFines += r.Fines.PendingFines
		o.PaidFines += r.Fines.PaidFines

		for t, items := range r.Violations {
			if _, ok := o.ViolationTypes[t]; ok {
				o.ViolationTypes[t] += len(items)
			}
		}
	}

	o.TotalNoHelmet = o.ViolationTypes[violation.NoHelmet]
	o.TotalTripleRiding = o.ViolationTypes[violation.TripleRiding]
	o.TotalNoNumberPlate = o.ViolationTypes[violation.NoNumberPlate]
	return o
}

type TimelineBucket struct {
	Hour       string `json:"hour"`
	Violations int    `json:"violations"`
}

// Timeline sums total violations per hour, ascending by hour. Records with
// an unparsable timestamp are skipped.
func Timeline(records []violation.ViolationRecord) []TimelineBucket {
	sums := map[string]int{}
	for _, r := range records {
		ts, err := time.Parse(violation.TimestampLayout, r.Timestamp)
		if err != nil {
			continue
		}
		sums[ts.Format(TimelineLayout)] += r.TotalViolations
	}

	out := make([]TimelineBucket, 0, len(sums))
	for hour, n := range sums {
		out = append(out, TimelineBucket{Hour: hour, Violations: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

type TypeDetail struct {
	ViolationID int                         `json:"violation_id"`
	Image       string                      `json:"image"`
	Timestamp   string                      `json:"timestamp"`
	Details     violation.ViolationInstance `json:"details"`
}

type TypeStats struct {
	Count   int          `json:"count"`
	Details []TypeDetail `json:"details"`
}

// TypeBreakdown lists every instance grouped by type. All known types are
// present in the result, including those with no instances.
func TypeBreakdown(records []violation.ViolationRecord) map[violation.ViolationType]TypeStats {
	out := make(map[violation.ViolationType]TypeStats, len(violation.AllTypes()))
	for _, t := range violation.AllTypes() {
		out[t] = TypeStats{Details: []TypeDetail{}}
	}

	for idx, r := range records {
		for _, t := range violation.AllTypes() {
			items := r.Violations[t]
			if len(items) == 0 {
				continue
			}
			stats := out[t]
			stats.Count += len(items)
			for _, item := range items {
				if item == nil {
					item = violation.ViolationInstance{}
				}
				stats.Details = append(stats.Details, TypeDetail{
					ViolationID: idx,
					Image:       r.Image,
					Timestamp:   r.Timestamp,
					Details:     item,
				})
			}
			out[t] = stats
		}
	}
	return out
}

type FinesSummary struct {
	TotalFinesAmount   int64   `json:"total_fines_amount"`
	PaidFinesAmount    int64   `json:"paid_fines_amount"`
	PendingFinesAmount int64   `json:"pending_fines_amount"`
	TotalFinesCount    int     `json:"total_fines_count"`
	PaidFinesCount     int     `json:"paid_fines_count"`
	PendingFinesCount  int     `json:"pending_fines_count"`
	CollectionRate     float64 `json:"collection_rate"`
}

func SummarizeFines(records []violation.ViolationRecord) FinesSummary {
	var s FinesSummary
	for _, r := range records {
		s.TotalFinesAmount += r.Fines.TotalFines
		s.PaidFinesAmount += r.Fines.PaidFines
		s.PendingFinesAmount += r.Fines.PendingFines

		for _, f := range r.Fines.FinesList {
			s.TotalFinesCount++
			if f.Status == violation.FineStatusPaid {
				s.PaidFinesCount++
			} else {
				s.PendingFinesCount++
			}
		}
	}
	s.CollectionRate = CollectionRate(s.PaidFinesAmount, s.TotalFinesAmount)
	return s
}

// CollectionRate is paid/total as a percentage rounded half away from zero
// to two places, or 0 when nothing was issued.
func CollectionRate(paid, total int64) float64 {
	if total <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(paid).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(total), 8).
		Round(2)
	f, _ := rate.Float64()
	return f
}
