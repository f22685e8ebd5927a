package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"traffic-fines-service/internal/domain/violation"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewPostgresStore(gdb), mock
}

var recordColumns = []string{
	"idx", "image", "recorded_at", "license_plate", "vehicle_count", "person_count",
	"total_violations", "detections", "violations", "fines",
	"total_fines", "paid_fines", "pending_fines", "updated_at",
}

func TestPostgresStoreLoad(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(recordColumns).
		AddRow(0, "a.jpg", "2025-01-01 08:30:00", nil, 1, 3, 4,
			[]byte(`{"image_id":"a.jpg","motorbike":1,"person":3,"helmet":1,"license_plate":0}`),
			[]byte(`{"no_helmet":[{},{}],"triple_riding":[{}],"no_number_plate":[{}]}`),
			[]byte(`{"total_fines":2300,"fines_list":[{"fine_id":1001,"violation_type":"no_helmet","amount":500,"status":"pending"}],"paid_fines":0,"pending_fines":2300}`),
			2300, 0, 2300, time.Now()).
		AddRow(1, "b.jpg", "2025-01-01 09:00:00", "KA01AB1234", 1, 1, 0,
			[]byte(`{"image_id":"b.jpg","motorbike":1,"person":1,"helmet":1,"license_plate":1}`),
			[]byte(`{}`),
			[]byte(`{"total_fines":0,"fines_list":[],"paid_fines":0,"pending_fines":0}`),
			0, 0, 0, time.Now())

	mock.ExpectQuery(`SELECT \* FROM "violation_records" ORDER BY idx ASC`).WillReturnRows(rows)

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a.jpg", records[0].Image)
	assert.Equal(t, 3, records[0].Detections.Person)
	assert.Len(t, records[0].Violations[violation.NoHelmet], 2)
	assert.Equal(t, int64(2300), records[0].Fines.TotalFines)
	assert.Equal(t, int64(1001), records[0].Fines.FinesList[0].FineID)
	assert.Equal(t, "KA01AB1234", records[1].LicensePlate)
	assert.Empty(t, records[1].Violations)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadRejectsGaps(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(recordColumns).
		AddRow(1, "b.jpg", "2025-01-01 09:00:00", nil, 0, 0, 0, []byte(`{}`), []byte(`{}`), []byte(`{}`), 0, 0, 0, time.Now())
	mock.ExpectQuery(`SELECT \* FROM "violation_records"`).WillReturnRows(rows)

	_, err := store.Load(context.Background())
	assert.Error(t, err)
}

func TestPostgresStoreLoadError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "violation_records"`).WillReturnError(errors.New("connection refused"))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresStoreSave(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "violation_records" .* ON CONFLICT \("idx"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM "violation_records" WHERE idx >= \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.Save(context.Background(), []violation.ViolationRecord{
		sampleRecord("a.jpg", 1001),
		sampleRecord("b.jpg", 1002),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveBeginFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	err := store.Save(context.Background(), []violation.ViolationRecord{sampleRecord("a.jpg", 1001)})
	assert.Error(t, err)
}

func TestPostgresStoreSaveRollsBackOnInsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "violation_records"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), []violation.ViolationRecord{sampleRecord("a.jpg", 1001)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
