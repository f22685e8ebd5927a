package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS violation_records (
		idx              INTEGER PRIMARY KEY,
		image            TEXT NOT NULL,
		recorded_at      TEXT NOT NULL,
		license_plate    TEXT,
		vehicle_count    INT NOT NULL DEFAULT 0,
		person_count     INT NOT NULL DEFAULT 0,
		total_violations INT NOT NULL DEFAULT 0,
		detections       JSONB,
		violations       JSONB,
		fines            JSONB,
		total_fines      BIGINT NOT NULL DEFAULT 0,
		paid_fines       BIGINT NOT NULL DEFAULT 0,
		pending_fines    BIGINT NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ck_violation_records_totals CHECK (total_fines = paid_fines + pending_fines)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_violation_records_recorded_at ON violation_records(recorded_at);`,
	`CREATE INDEX IF NOT EXISTS idx_violation_records_pending ON violation_records(pending_fines) WHERE pending_fines > 0;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
