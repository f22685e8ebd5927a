package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-fines-service/internal/domain/violation"
)

func sampleRecord(image string, fineID int64) violation.ViolationRecord {
	return violation.ViolationRecord{
		Image:     image,
		Timestamp: "2025-01-01 08:30:00",
		Detections: violation.DetectionCount{
			ImageID: image, Motorbike: 1, Person: 1, Helmet: 0, LicensePlate: 1,
		},
		Violations:      violation.Violations{violation.NoHelmet: {{"rider": 1}}},
		VehicleCount:    1,
		PersonCount:     1,
		TotalViolations: 1,
		Fines: violation.FineLedgerEntry{
			TotalFines:   500,
			PendingFines: 500,
			FinesList: []violation.Fine{{
				FineID: fineID, ViolationType: violation.NoHelmet, Amount: 500,
				Status: violation.FineStatusPending, IssuedDate: "2025-01-01 08:30:00",
			}},
		},
	}
}

func TestFileStoreMissingFileLoadsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "violations.json"))

	records, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "violations.json")
	s := NewFileStore(path)
	ctx := context.Background()

	in := []violation.ViolationRecord{sampleRecord("a.jpg", 1001), sampleRecord("b.jpg", 1002)}
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a.jpg", out[0].Image)
	assert.Equal(t, int64(1002), out[1].Fines.FinesList[0].FineID)
	assert.Equal(t, violation.FineStatusPending, out[1].Fines.FinesList[0].Status)
	assert.Len(t, out[0].Violations[violation.NoHelmet], 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreSaveHonoursCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.json")
	s := NewFileStore(path)
	require.NoError(t, s.Save(context.Background(), []violation.ViolationRecord{sampleRecord("a.jpg", 1001)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Save(ctx, []violation.ViolationRecord{})
	require.Error(t, err)

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1, "previous collection must survive an abandoned save")
}

func TestFileStoreSaveFailsForMissingDirectory(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing", "violations.json"))
	err := s.Save(context.Background(), nil)
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

func TestDecodeReport(t *testing.T) {
	t.Run("wrapped object", func(t *testing.T) {
		records, err := DecodeReport([]byte(`{"violations":[{"image":"x.jpg","timestamp":"2025-01-01 00:00:00"}]}`))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "x.jpg", records[0].Image)
	})

	t.Run("legacy red light data", func(t *testing.T) {
		raw := `[{"image":"x.jpg","red_light_on":true,"violations":{"red_light":[{}],"no_helmet":[{}]}}]`
		records, err := DecodeReport([]byte(raw))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Len(t, records[0].Violations, 2, "decoding keeps keys, retirement happens in the ledger")
	})

	t.Run("empty input", func(t *testing.T) {
		records, err := DecodeReport([]byte("  \n"))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeReport([]byte("not json"))
		assert.Error(t, err)
	})
}
