package db

import (
	"fmt"

	"gorm.io/gorm"

	"cityeye-service/internal/zone"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
	`CREATE TABLE IF NOT EXISTS detection_zone_sets (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		device_id TEXT NOT NULL UNIQUE,
		canvas_width INTEGER NOT NULL,
		canvas_height INTEGER NOT NULL,
		native_width INTEGER NOT NULL,
		native_height INTEGER NOT NULL,
		submitted_by UUID NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS detection_zones (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		set_id UUID NOT NULL REFERENCES detection_zone_sets(id) ON DELETE CASCADE,
		zone_id INTEGER NOT NULL,
		name VARCHAR(10) NOT NULL,
		vertices JSONB NOT NULL,
		canvas_vertices JSONB NOT NULL,
		start_lat DOUBLE PRECISION NOT NULL,
		start_lng DOUBLE PRECISION NOT NULL,
		end_lat DOUBLE PRECISION NOT NULL,
		end_lng DOUBLE PRECISION NOT NULL,
		route_bearing_deg DOUBLE PRECISION NOT NULL DEFAULT 0,
		route_direction VARCHAR(2) NOT NULL DEFAULT '',
		route_length_m DOUBLE PRECISION NOT NULL DEFAULT 0,
		UNIQUE (set_id, zone_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_zones_set ON detection_zones (set_id);`,
	// zone ids are allocated 1..zone.DefaultMaxZones; EDITOR_MAX_ZONES is
	// validated against the same bound
	fmt.Sprintf(`DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_constraint WHERE conname = 'chk_detection_zones_zone_id'
		) THEN
			ALTER TABLE detection_zones
				ADD CONSTRAINT chk_detection_zones_zone_id CHECK (zone_id BETWEEN 1 AND %d);
		END IF;
	END
	$$;`, zone.DefaultMaxZones),
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
