package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// UpsertSensor creates or fully replaces one sensor's configuration row.
func (d *DB) UpsertSensor(s model.Sensor) error {
	var lastMeasurementAt *string
	if !s.LastMeasurementAt.IsZero() {
		v := s.LastMeasurementAt.UTC().Format(time.RFC3339Nano)
		lastMeasurementAt = &v
	}
	_, err := d.conn.Exec(`
		INSERT INTO sensors (id, name, driver_tag, description, enabled, update_interval_ms, config, calibration_data, last_measurement_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, driver_tag=excluded.driver_tag, description=excluded.description,
			enabled=excluded.enabled, update_interval_ms=excluded.update_interval_ms,
			config=excluded.config, calibration_data=excluded.calibration_data,
			last_measurement_at=excluded.last_measurement_at`,
		s.ID, s.Name, s.DriverTag, s.Description, s.Enabled, s.UpdateInterval.Milliseconds(),
		string(s.Config), string(s.CalibrationData), lastMeasurementAt)
	if err != nil {
		return fmt.Errorf("upsert sensor %s: %w", s.ID, err)
	}
	return nil
}

// AllSensors retrieves every configured sensor.
func (d *DB) AllSensors() ([]model.Sensor, error) {
	rows, err := d.conn.Query(`SELECT id, name, driver_tag, description, enabled, update_interval_ms, config, calibration_data, last_measurement_at FROM sensors`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var out []model.Sensor
	for rows.Next() {
		s, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SensorByID retrieves a single sensor, returning an error wrapping sql.ErrNoRows if absent.
func (d *DB) SensorByID(id string) (model.Sensor, error) {
	row := d.conn.QueryRow(`SELECT id, name, driver_tag, description, enabled, update_interval_ms, config, calibration_data, last_measurement_at FROM sensors WHERE id = ?`, id)
	return scanSensor(row)
}

// scanner abstracts over *sql.Row and *sql.Rows, both of which satisfy Scan.
type scanner interface {
	Scan(dest ...any) error
}

func scanSensor(row scanner) (model.Sensor, error) {
	var s model.Sensor
	var updateMS int64
	var config, cal string
	var lastMeasurementAt sql.NullString

	err := row.Scan(&s.ID, &s.Name, &s.DriverTag, &s.Description, &s.Enabled, &updateMS, &config, &cal, &lastMeasurementAt)
	if err != nil {
		return model.Sensor{}, fmt.Errorf("scan sensor: %w", err)
	}
	s.UpdateInterval = time.Duration(updateMS) * time.Millisecond
	s.Config = []byte(config)
	s.CalibrationData = []byte(cal)
	if lastMeasurementAt.Valid && lastMeasurementAt.String != "" {
		s.LastMeasurementAt, _ = time.Parse(time.RFC3339Nano, lastMeasurementAt.String)
	}
	return s, nil
}

// UpdateSensorCalibration persists a new calibration blob for one sensor,
// called whenever the API-facing calibration update endpoint applies a
// change (spec §4.C.3's "calibration changes are persisted immediately").
func (d *DB) UpdateSensorCalibration(id string, calibrationData []byte) error {
	_, err := d.conn.Exec(`UPDATE sensors SET calibration_data = ? WHERE id = ?`, string(calibrationData), id)
	if err != nil {
		return fmt.Errorf("update calibration for sensor %s: %w", id, err)
	}
	return nil
}

// UpdateSensorLastMeasurementAt records the timestamp of the most recent
// successful read, independent of whether the measurement itself is kept
// past the store's retention window.
func (d *DB) UpdateSensorLastMeasurementAt(id string, ts time.Time) error {
	_, err := d.conn.Exec(`UPDATE sensors SET last_measurement_at = ? WHERE id = ?`, ts.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last_measurement_at for sensor %s: %w", id, err)
	}
	return nil
}

// UpdateSensorEnabled flips a sensor's enabled flag, used by the debug CLI
// to take a misbehaving sensor offline without editing the config file.
func (d *DB) UpdateSensorEnabled(id string, enabled bool) error {
	_, err := d.conn.Exec(`UPDATE sensors SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("update enabled for sensor %s: %w", id, err)
	}
	return nil
}

// DeleteSensor removes a sensor and, via ON DELETE CASCADE, its
// measurements. Fails with a foreign-key-constraint error if a controller
// still binds this sensor to a role.
func (d *DB) DeleteSensor(id string) error {
	_, err := d.conn.Exec(`DELETE FROM sensors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sensor %s: %w", id, err)
	}
	return nil
}
