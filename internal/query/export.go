package query

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"traffic-fines-service/internal/domain/violation"
)

var csvHeader = []string{
	"ID", "Image", "Timestamp", "Total Violations",
	"No Helmet", "Triple Riding", "No Number Plate",
	"Total Fine", "Paid Fine", "Pending Fine",
	"Vehicles", "Persons",
}

// ExportRow is one flattened record as it appears in the CSV and JSON exports.
type ExportRow struct {
	Index           int    `json:"index"`
	Image           string `json:"image"`
	Timestamp       string `json:"timestamp"`
	TotalViolations int    `json:"total_violations"`
	NoHelmet        int    `json:"no_helmet"`
	TripleRiding    int    `json:"triple_riding"`
	NoNumberPlate   int    `json:"no_number_plate"`
	TotalFine       int64  `json:"total_fine"`
	PaidFine        int64  `json:"paid_fine"`
	PendingFine     int64  `json:"pending_fine"`
	VehicleCount    int    `json:"vehicle_count"`
	PersonCount     int    `json:"person_count"`
}

func ExportRows(records []violation.ViolationRecord) []ExportRow {
	rows := make([]ExportRow, 0, len(records))
	for idx, r := range records {
		rows = append(rows, ExportRow{
			Index:           idx,
			Image:           r.Image,
			Timestamp:       r.Timestamp,
			TotalViolations: r.TotalViolations,
			NoHelmet:        len(r.Violations[violation.NoHelmet]),
			TripleRiding:    len(r.Violations[violation.TripleRiding]),
			NoNumberPlate:   len(r.Violations[violation.NoNumberPlate]),
			TotalFine:       r.Fines.TotalFines,
			PaidFine:        r.Fines.PaidFines,
			PendingFine:     r.Fines.PendingFines,
			VehicleCount:    r.VehicleCount,
			PersonCount:     r.PersonCount,
		})
	}
	return rows
}

func (r ExportRow) fields() []string {
	return []string{
		strconv.Itoa(r.Index),
		r.Image,
		r.Timestamp,
		strconv.Itoa(r.TotalViolations),
		strconv.Itoa(r.NoHelmet),
		strconv.Itoa(r.TripleRiding),
		strconv.Itoa(r.NoNumberPlate),
		strconv.FormatInt(r.TotalFine, 10),
		strconv.FormatInt(r.PaidFine, 10),
		strconv.FormatInt(r.PendingFine, 10),
		strconv.Itoa(r.VehicleCount),
		strconv.Itoa(r.PersonCount),
	}
}

// WriteCSV writes the header followed by one line per row.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.fields()); err != nil {
			return fmt.Errorf("write csv row %d: %w", row.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
