package db

// schema is applied with CREATE TABLE IF NOT EXISTS, so opening an existing
// database file is idempotent. Mirrors the flat table-per-entity layout of
// thatsimonsguy-hvac-controller/db's inline schema, adapted to this
// service's sensor/controller/measurement/action model.
const schema = `
CREATE TABLE IF NOT EXISTS sensors (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	driver_tag          TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	enabled             BOOLEAN NOT NULL DEFAULT TRUE,
	update_interval_ms  INTEGER NOT NULL,
	config              TEXT NOT NULL DEFAULT '',
	calibration_data    TEXT NOT NULL DEFAULT '',
	last_measurement_at TEXT
);

CREATE TABLE IF NOT EXISTS controllers (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	controller_type    TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	enabled            BOOLEAN NOT NULL DEFAULT TRUE,
	update_interval_ms INTEGER NOT NULL,
	config             TEXT NOT NULL DEFAULT '',
	last_run_at        TEXT
);

CREATE TABLE IF NOT EXISTS controller_bound_sensors (
	controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	sensor_id     TEXT NOT NULL REFERENCES sensors(id),
	PRIMARY KEY (controller_id, role)
);

CREATE TABLE IF NOT EXISTS measurements (
	sensor_id TEXT NOT NULL REFERENCES sensors(id) ON DELETE CASCADE,
	ts        TEXT NOT NULL,
	kind      TEXT NOT NULL,
	value     REAL NOT NULL,
	unit      TEXT NOT NULL,
	raw_value REAL
);

CREATE INDEX IF NOT EXISTS idx_measurements_sensor_ts ON measurements(sensor_id, ts);

CREATE TABLE IF NOT EXISTS controller_actions (
	controller_id TEXT NOT NULL REFERENCES controllers(id) ON DELETE CASCADE,
	ts            TEXT NOT NULL,
	kind          TEXT NOT NULL,
	details       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_controller_actions_controller_ts ON controller_actions(controller_id, ts);
`
