package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS pg_trgm;`,
	`CREATE TABLE IF NOT EXISTS zones (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		tag             TEXT,
		floor_number    INT,
		floor_name      TEXT,
		parent_zone_id  BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		capacity        INT NOT NULL DEFAULT 0,
		price_id        BIGINT,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified        TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_zones_name ON zones(name) WHERE NOT is_deleted;`,
	`CREATE TABLE IF NOT EXISTS prices (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		hourly_fee      BIGINT NOT NULL DEFAULT 0,
		entrance_fee    BIGINT NOT NULL DEFAULT 0,
		schedule        JSONB,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified        TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		tag             TEXT NOT NULL,
		ip              TEXT,
		serial          TEXT,
		zone_id         BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified        TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_ip ON cameras(ip) WHERE ip IS NOT NULL AND NOT is_deleted;`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_serial ON cameras(serial) WHERE serial IS NOT NULL AND NOT is_deleted;`,
	`CREATE TABLE IF NOT EXISTS records (
		id                  BIGSERIAL PRIMARY KEY,
		plate               TEXT NOT NULL,
		start_time          TIMESTAMP NOT NULL,
		end_time            TIMESTAMP NOT NULL,
		best_plate_image_id BIGINT,
		best_lpr_image_id   BIGINT,
		score               DOUBLE PRECISION NOT NULL DEFAULT 0,
		zone_id             BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		entrance_camera_id  BIGINT REFERENCES cameras(id) ON DELETE SET NULL ON UPDATE CASCADE,
		exit_camera_id      BIGINT REFERENCES cameras(id) ON DELETE SET NULL ON UPDATE CASCADE,
		latest_status       TEXT NOT NULL DEFAULT 'unfinished',
		additional_data     JSONB,
		is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
		created             TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified            TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE INDEX IF NOT EXISTS idx_records_plate_trgm ON records USING gin (plate gin_trgm_ops);`,
	`CREATE INDEX IF NOT EXISTS idx_records_status ON records(latest_status) WHERE NOT is_deleted;`,
	`CREATE INDEX IF NOT EXISTS idx_records_end_time ON records(end_time);`,
	`CREATE TABLE IF NOT EXISTS plates (
		id              BIGSERIAL PRIMARY KEY,
		plate           TEXT NOT NULL,
		record_time     TIMESTAMP NOT NULL,
		camera_id       BIGINT REFERENCES cameras(id) ON DELETE SET NULL ON UPDATE CASCADE,
		zone_id         BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		plate_image_id  BIGINT,
		lpr_image_id    BIGINT,
		record_id       BIGINT REFERENCES records(id) ON DELETE SET NULL ON UPDATE CASCADE,
		camera_tag      TEXT NOT NULL,
		score           DOUBLE PRECISION NOT NULL DEFAULT 0,
		suppressed      BOOLEAN NOT NULL DEFAULT FALSE,
		raw_payload     JSONB,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified        TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_plate_trgm ON plates USING gin (plate gin_trgm_ops);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_record_time ON plates(record_time);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_camera_time ON plates(plate, camera_id, record_time);`,
	`CREATE TABLE IF NOT EXISTS events (
		id                BIGSERIAL PRIMARY KEY,
		plate             TEXT NOT NULL,
		record_time       TIMESTAMP NOT NULL,
		kind              TEXT NOT NULL,
		camera_id         BIGINT REFERENCES cameras(id) ON DELETE SET NULL ON UPDATE CASCADE,
		spot_id           BIGINT,
		zone_id           BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		record_id         BIGINT REFERENCES records(id) ON DELETE SET NULL ON UPDATE CASCADE,
		direction_info    JSONB,
		invalid           BOOLEAN NOT NULL DEFAULT FALSE,
		additional_data   JSONB,
		correction_of_ocr TEXT,
		is_deleted        BOOLEAN NOT NULL DEFAULT FALSE,
		created           TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified          TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_plate_trgm ON events USING gin (plate gin_trgm_ops);`,
	`CREATE INDEX IF NOT EXISTS idx_events_record_time ON events(record_time);`,
	`CREATE TABLE IF NOT EXISTS spots (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		camera_id       BIGINT REFERENCES cameras(id) ON DELETE SET NULL ON UPDATE CASCADE,
		zone_id         BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		status          TEXT NOT NULL DEFAULT 'empty',
		current_plate   TEXT,
		geometry        JSONB,
		latest_modified TIMESTAMP,
		is_deleted      BOOLEAN NOT NULL DEFAULT FALSE,
		created         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified        TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE TABLE IF NOT EXISTS bills (
		id               BIGSERIAL PRIMARY KEY,
		plate            TEXT NOT NULL,
		start_time       TIMESTAMP NOT NULL,
		end_time         TIMESTAMP NOT NULL,
		entrance_fee     BIGINT NOT NULL DEFAULT 0,
		hourly_fee       BIGINT NOT NULL DEFAULT 0,
		price            BIGINT NOT NULL DEFAULT 0,
		zone_id          BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		record_id        BIGINT REFERENCES records(id) ON DELETE SET NULL ON UPDATE CASCADE,
		issued_by        TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'unpaid',
		rrn_number       TEXT,
		time_paid        TIMESTAMP,
		notice_sent_at   TIMESTAMP,
		is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
		created          TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE INDEX IF NOT EXISTS idx_bills_plate ON bills(plate) WHERE NOT is_deleted;`,
	`CREATE INDEX IF NOT EXISTS idx_bills_record ON bills(record_id);`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               BIGSERIAL PRIMARY KEY,
		bill_ids         JSONB NOT NULL,
		amount           BIGINT NOT NULL,
		callback_url     TEXT,
		gateway_order_id TEXT,
		status           TEXT NOT NULL DEFAULT 'created',
		rrn              TEXT,
		is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
		created          TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified         TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE TABLE IF NOT EXISTS lists (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		zone_id     BIGINT REFERENCES zones(id) ON DELETE SET NULL ON UPDATE CASCADE,
		description TEXT,
		is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
		created     TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		modified    TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_lists_name ON lists(name) WHERE NOT is_deleted;`,
	`CREATE TABLE IF NOT EXISTS list_items (
		list_id     BIGINT REFERENCES lists(id) ON DELETE CASCADE ON UPDATE CASCADE,
		plate       TEXT NOT NULL,
		note        TEXT,
		created     TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		PRIMARY KEY (list_id, plate)
	);`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id          BIGSERIAL PRIMARY KEY,
		kind        TEXT NOT NULL,
		payload     JSONB NOT NULL,
		reason      TEXT NOT NULL,
		created     TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM lists WHERE name = 'default_whitelist') THEN
			INSERT INTO lists (name, type, description) VALUES ('default_whitelist', 'WHITELIST', 'Default whitelist');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM lists WHERE name = 'default_blacklist') THEN
			INSERT INTO lists (name, type, description) VALUES ('default_blacklist', 'BLACKLIST', 'Default blacklist');
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
