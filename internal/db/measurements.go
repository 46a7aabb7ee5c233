package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// SaveMeasurement implements store.Persister, mirroring
// backend/history_storage.py's append-then-trim pattern but delegating the
// trim to PurgeOlderThan run on a schedule rather than on every insert.
func (d *DB) SaveMeasurement(m model.Measurement) error {
	_, err := d.conn.Exec(`INSERT INTO measurements (sensor_id, ts, kind, value, unit, raw_value) VALUES (?, ?, ?, ?, ?, ?)`,
		m.SensorID, m.Timestamp.UTC().Format(time.RFC3339Nano), string(m.Kind), m.Value, m.Unit, m.RawValue)
	if err != nil {
		return fmt.Errorf("save measurement for sensor %s: %w", m.SensorID, err)
	}
	return nil
}

// LoadSince implements store.Persister, used to seed store.Store.Restore on
// startup with the persisted tail of each sensor's history.
func (d *DB) LoadSince(sensorID string, since time.Time) ([]model.Measurement, error) {
	rows, err := d.conn.Query(`SELECT sensor_id, ts, kind, value, unit, raw_value FROM measurements WHERE sensor_id = ? AND ts >= ? ORDER BY ts ASC`,
		sensorID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("load measurements for sensor %s: %w", sensorID, err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PurgeSensor implements store.Persister, deleting every persisted
// measurement for one sensor (spec §4.F.4's manual purge operation).
func (d *DB) PurgeSensor(sensorID string) error {
	_, err := d.conn.Exec(`DELETE FROM measurements WHERE sensor_id = ?`, sensorID)
	if err != nil {
		return fmt.Errorf("purge measurements for sensor %s: %w", sensorID, err)
	}
	return nil
}

// PurgeOlderThan deletes every measurement older than cutoff across all
// sensors. Run by the runtime's midnight cron retention sweep (spec §4.F.2).
func (d *DB) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result, err := d.conn.Exec(`DELETE FROM measurements WHERE ts < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge measurements older than %s: %w", cutoff, err)
	}
	return result.RowsAffected()
}

func scanMeasurement(rows *sql.Rows) (model.Measurement, error) {
	var m model.Measurement
	var ts, kind string
	var rawValue sql.NullFloat64

	if err := rows.Scan(&m.SensorID, &ts, &kind, &m.Value, &m.Unit, &rawValue); err != nil {
		return model.Measurement{}, fmt.Errorf("scan measurement: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.Measurement{}, fmt.Errorf("parse measurement timestamp %q: %w", ts, err)
	}
	m.Timestamp = parsed
	m.Kind = model.MeasurementKind(kind)
	if rawValue.Valid {
		v := rawValue.Float64
		m.RawValue = &v
	}
	return m, nil
}
