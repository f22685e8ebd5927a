package query

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-fines-service/internal/domain/violation"
)

func record(ts string, helmet, triple, plate int, paid int64) violation.ViolationRecord {
	v := violation.Violations{}
	var fines []violation.Fine
	id := int64(1001)
	add := func(t violation.ViolationType, n int, amount int64) {
		for i := 0; i < n; i++ {
			v[t] = append(v[t], violation.ViolationInstance{"n": i})
			fines = append(fines, violation.Fine{FineID: id, ViolationType: t, Amount: amount, Status: violation.FineStatusPending})
			id++
		}
	}
	add(violation.NoHelmet, helmet, 500)
	add(violation.TripleRiding, triple, 300)
	add(violation.NoNumberPlate, plate, 1000)

	entry := violation.FineLedgerEntry{FinesList: fines}
	remaining := paid
	for i := range entry.FinesList {
		if remaining >= entry.FinesList[i].Amount {
			entry.FinesList[i].Status = violation.FineStatusPaid
			remaining -= entry.FinesList[i].Amount
		}
	}
	entry.Reconcile()

	return violation.ViolationRecord{
		Image:           "img.jpg",
		Timestamp:       ts,
		Violations:      v,
		VehicleCount:    1,
		PersonCount:     2 + triple,
		TotalViolations: v.Total(),
		Fines:           entry,
	}
}

func TestComputeOverview(t *testing.T) {
	records := []violation.ViolationRecord{
		record("2025-03-01 09:15:00", 2, 1, 1, 300),
		record("2025-03-01 09:45:00", 1, 0, 0, 0),
		record("2025-03-01 10:05:00", 0, 0, 0, 0),
	}

	o := ComputeOverview(records)
	assert.Equal(t, 3, o.TotalRecords)
	assert.Equal(t, 5, o.TotalViolations)
	assert.Equal(t, 3, o.TotalNoHelmet)
	assert.Equal(t, 1, o.TotalTripleRiding)
	assert.Equal(t, 1, o.TotalNoNumberPlate)
	assert.Equal(t, 3, o.TotalVehicles)
	assert.Equal(t, 7, o.TotalPersons)
	assert.Equal(t, int64(2800), o.TotalFines)
	assert.Equal(t, int64(300), o.PaidFines)
	assert.Equal(t, int64(2500), o.PendingFines)
	assert.Equal(t, 3, o.ViolationTypes[violation.NoHelmet])

	empty := ComputeOverview(nil)
	assert.Equal(t, 0, empty.TotalRecords)
	assert.Len(t, empty.ViolationTypes, 3)
}

func TestTimeline(t *testing.T) {
	records := []violation.ViolationRecord{
		record("2025-03-01 10:05:00", 1, 0, 0, 0),
		record("2025-03-01 09:15:00", 2, 1, 1, 0),
		record("2025-03-01 09:45:00", 1, 0, 0, 0),
		record("yesterday", 3, 0, 0, 0),
	}

	got := Timeline(records)
	assert.Equal(t, []TimelineBucket{
		{Hour: "2025-03-01 09:00", Violations: 5},
		{Hour: "2025-03-01 10:00", Violations: 1},
	}, got)

	assert.Empty(t, Timeline(nil))
}

func TestTypeBreakdown(t *testing.T) {
	records := []violation.ViolationRecord{
		record("2025-03-01 09:15:00", 2, 0, 0, 0),
		record("2025-03-01 09:45:00", 0, 0, 1, 0),
	}

	got := TypeBreakdown(records)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[violation.NoHelmet].Count)
	assert.Equal(t, 0, got[violation.TripleRiding].Count)
	assert.NotNil(t, got[violation.TripleRiding].Details)
	require.Len(t, got[violation.NoNumberPlate].Details, 1)
	assert.Equal(t, 1, got[violation.NoNumberPlate].Details[0].ViolationID)
	assert.Equal(t, "2025-03-01 09:45:00", got[violation.NoNumberPlate].Details[0].Timestamp)
}

func TestSummarizeFines(t *testing.T) {
	records := []violation.ViolationRecord{
		record("2025-03-01 09:15:00", 2, 1, 1, 300),
	}

	s := SummarizeFines(records)
	assert.Equal(t, int64(2300), s.TotalFinesAmount)
	assert.Equal(t, int64(300), s.PaidFinesAmount)
	assert.Equal(t, int64(2000), s.PendingFinesAmount)
	assert.Equal(t, 4, s.TotalFinesCount)
	assert.Equal(t, 1, s.PaidFinesCount)
	assert.Equal(t, 3, s.PendingFinesCount)
	assert.Equal(t, 13.04, s.CollectionRate)
}

func TestCollectionRate(t *testing.T) {
	tests := []struct {
		name        string
		paid, total int64
		want        float64
	}{
		{"nothing issued", 0, 0, 0},
		{"nothing paid", 0, 1800, 0},
		{"all paid", 1800, 1800, 100},
		{"two thirds", 1000, 1500, 66.67},
		{"one third", 500, 1500, 33.33},
		{"half", 500, 1000, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CollectionRate(tt.paid, tt.total))
		})
	}
}

func TestWriteCSV(t *testing.T) {
	records := []violation.ViolationRecord{
		record("2025-03-01 09:15:00", 2, 1, 1, 300),
		record("2025-03-01 09:45:00", 0, 0, 0, 0),
	}
	records[1].Image = "frame, two.jpg"

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, ExportRows(records)))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID,Image,Timestamp,Total Violations,No Helmet,Triple Riding,No Number Plate,Total Fine,Paid Fine,Pending Fine,Vehicles,Persons", lines[0])
	assert.Equal(t, "0,img.jpg,2025-03-01 09:15:00,4,2,1,1,2300,300,2000,1,3", lines[1])
	assert.Equal(t, `1,"frame, two.jpg",2025-03-01 09:45:00,0,0,0,0,0,0,0,1,2`, lines[2])
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name               string
		total, page, size  int
		wantStart, wantEnd int
		wantErr            bool
	}{
		{"first page", 25, 1, 10, 0, 10, false},
		{"last partial page", 25, 3, 10, 20, 25, false},
		{"past the end", 25, 4, 10, 25, 25, false},
		{"empty", 0, 1, 10, 0, 0, false},
		{"zero page", 25, 0, 10, 0, 0, true},
		{"zero size", 25, 1, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := Paginate(tt.total, tt.page, tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, violation.ErrInvalidPage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}

	p := NewPage[int](nil, 3, 10, 25)
	assert.Equal(t, 3, p.TotalPages)
	assert.NotNil(t, p.Data)
	assert.Equal(t, 0, TotalPages(0, 10))
}
