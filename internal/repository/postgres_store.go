package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"traffic-fines-service/internal/domain/violation"
)

type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ViolationRecordRow is one ledger record. Nested structures are kept as
// jsonb; the fine totals are denormalized for ad-hoc SQL reporting.
type ViolationRecordRow struct {
	Idx             int            `gorm:"column:idx;primaryKey;autoIncrement:false"`
	Image           string         `gorm:"column:image;not null"`
	Timestamp       string         `gorm:"column:recorded_at;not null"`
	LicensePlate    *string        `gorm:"column:license_plate"`
	VehicleCount    int            `gorm:"column:vehicle_count;not null"`
	PersonCount     int            `gorm:"column:person_count;not null"`
	TotalViolations int            `gorm:"column:total_violations;not null"`
	Detections      datatypes.JSON `gorm:"column:detections;type:jsonb"`
	Violations      datatypes.JSON `gorm:"column:violations;type:jsonb"`
	Fines           datatypes.JSON `gorm:"column:fines;type:jsonb"`
	TotalFines      int64          `gorm:"column:total_fines;not null"`
	PaidFines       int64          `gorm:"column:paid_fines;not null"`
	PendingFines    int64          `gorm:"column:pending_fines;not null"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (ViolationRecordRow) TableName() string {
	return "violation_records"
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) Load(ctx context.Context) ([]violation.ViolationRecord, error) {
	var rows []ViolationRecordRow
	if err := s.db.WithContext(ctx).Order("idx ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load violation records: %w", err)
	}

	records := make([]violation.ViolationRecord, 0, len(rows))
	for i, row := range rows {
		if row.Idx != i {
			return nil, fmt.Errorf("violation records are not contiguous: expected idx %d, got %d", i, row.Idx)
		}
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, fmt.Errorf("failed to decode violation record %d: %w", row.Idx, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save upserts every record by index and drops rows past the end of the
// collection, all in one transaction.
func (s *PostgresStore) Save(ctx context.Context, records []violation.ViolationRecord) error {
	rows := make([]ViolationRecordRow, 0, len(records))
	now := time.Now()
	for i, rec := range records {
		row, err := recordToRow(i, rec)
		if err != nil {
			return fmt.Errorf("failed to encode violation record %d: %w", i, err)
		}
		row.UpdatedAt = now
		rows = append(rows, row)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "idx"}},
				UpdateAll: true,
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("failed to upsert violation records: %w", err)
			}
		}
		if err := tx.Where("idx >= ?", len(rows)).Delete(&ViolationRecordRow{}).Error; err != nil {
			return fmt.Errorf("failed to trim violation records: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func recordToRow(idx int, rec violation.ViolationRecord) (ViolationRecordRow, error) {
	detections, err := json.Marshal(rec.Detections)
	if err != nil {
		return ViolationRecordRow{}, err
	}
	violations := rec.Violations
	if violations == nil {
		violations = violation.Violations{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return ViolationRecordRow{}, err
	}
	fines, err := json.Marshal(rec.Fines)
	if err != nil {
		return ViolationRecordRow{}, err
	}

	row := ViolationRecordRow{
		Idx:             idx,
		Image:           rec.Image,
		Timestamp:       rec.Timestamp,
		VehicleCount:    rec.VehicleCount,
		PersonCount:     rec.PersonCount,
		TotalViolations: rec.TotalViolations,
		Detections:      datatypes.JSON(detections),
		Violations:      datatypes.JSON(violationsJSON),
		Fines:           datatypes.JSON(fines),
		TotalFines:      rec.Fines.TotalFines,
		PaidFines:       rec.Fines.PaidFines,
		PendingFines:    rec.Fines.PendingFines,
	}
	if rec.LicensePlate != "" {
		row.LicensePlate = &rec.LicensePlate
	}
	return row, nil
}

func rowToRecord(row ViolationRecordRow) (violation.ViolationRecord, error) {
	rec := violation.ViolationRecord{
		Image:           row.Image,
		Timestamp:       row.Timestamp,
		VehicleCount:    row.VehicleCount,
		PersonCount:     row.PersonCount,
		TotalViolations: row.TotalViolations,
	}
	if row.LicensePlate != nil {
		rec.LicensePlate = *row.LicensePlate
	}
	if len(row.Detections) > 0 {
		if err := json.Unmarshal(row.Detections, &rec.Detections); err != nil {
			return rec, fmt.Errorf("detections: %w", err)
		}
	}
	if len(row.Violations) > 0 {
		if err := json.Unmarshal(row.Violations, &rec.Violations); err != nil {
			return rec, fmt.Errorf("violations: %w", err)
		}
	}
	if len(row.Fines) > 0 {
		if err := json.Unmarshal(row.Fines, &rec.Fines); err != nil {
			return rec, fmt.Errorf("fines: %w", err)
		}
	}
	return rec, nil
}
