package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// UpsertController creates or replaces a controller's configuration row and
// its bound-sensor roles in one transaction.
func (d *DB) UpsertController(c model.Controller) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer tx.Rollback()

	var lastRunAt *string
	if !c.LastRunAt.IsZero() {
		v := c.LastRunAt.UTC().Format(time.RFC3339Nano)
		lastRunAt = &v
	}
	_, err = tx.Exec(`
		INSERT INTO controllers (id, name, controller_type, description, enabled, update_interval_ms, config, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, controller_type=excluded.controller_type, description=excluded.description,
			enabled=excluded.enabled, update_interval_ms=excluded.update_interval_ms,
			config=excluded.config, last_run_at=excluded.last_run_at`,
		c.ID, c.Name, c.ControllerType, c.Description, c.Enabled, c.UpdateInterval.Milliseconds(),
		string(c.Config), lastRunAt)
	if err != nil {
		return fmt.Errorf("upsert controller %s: %w", c.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM controller_bound_sensors WHERE controller_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear bound sensors for %s: %w", c.ID, err)
	}
	for role, sensorID := range c.BoundSensors {
		if _, err := tx.Exec(`INSERT INTO controller_bound_sensors (controller_id, role, sensor_id) VALUES (?, ?, ?)`, c.ID, role, sensorID); err != nil {
			return fmt.Errorf("bind sensor %s to role %s on %s: %w", sensorID, role, c.ID, err)
		}
	}

	return tx.Commit()
}

// AllControllers retrieves every configured controller with its bound
// sensors resolved.
func (d *DB) AllControllers() ([]model.Controller, error) {
	rows, err := d.conn.Query(`SELECT id, name, controller_type, description, enabled, update_interval_ms, config, last_run_at FROM controllers`)
	if err != nil {
		return nil, fmt.Errorf("query controllers: %w", err)
	}
	defer rows.Close()

	var out []model.Controller
	for rows.Next() {
		c, err := scanController(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		bound, err := d.boundSensors(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].BoundSensors = bound
	}
	return out, nil
}

// ControllerByID retrieves one controller with its bound sensors resolved.
func (d *DB) ControllerByID(id string) (model.Controller, error) {
	row := d.conn.QueryRow(`SELECT id, name, controller_type, description, enabled, update_interval_ms, config, last_run_at FROM controllers WHERE id = ?`, id)
	c, err := scanController(row)
	if err != nil {
		return model.Controller{}, err
	}
	bound, err := d.boundSensors(c.ID)
	if err != nil {
		return model.Controller{}, err
	}
	c.BoundSensors = bound
	return c, nil
}

func (d *DB) boundSensors(controllerID string) (map[string]string, error) {
	rows, err := d.conn.Query(`SELECT role, sensor_id FROM controller_bound_sensors WHERE controller_id = ?`, controllerID)
	if err != nil {
		return nil, fmt.Errorf("query bound sensors for %s: %w", controllerID, err)
	}
	defer rows.Close()

	bound := map[string]string{}
	for rows.Next() {
		var role, sensorID string
		if err := rows.Scan(&role, &sensorID); err != nil {
			return nil, fmt.Errorf("scan bound sensor: %w", err)
		}
		bound[role] = sensorID
	}
	return bound, rows.Err()
}

func scanController(row scanner) (model.Controller, error) {
	var c model.Controller
	var updateMS int64
	var config string
	var lastRunAt sql.NullString

	err := row.Scan(&c.ID, &c.Name, &c.ControllerType, &c.Description, &c.Enabled, &updateMS, &config, &lastRunAt)
	if err != nil {
		return model.Controller{}, fmt.Errorf("scan controller: %w", err)
	}
	c.UpdateInterval = time.Duration(updateMS) * time.Millisecond
	c.Config = []byte(config)
	if lastRunAt.Valid && lastRunAt.String != "" {
		c.LastRunAt, _ = time.Parse(time.RFC3339Nano, lastRunAt.String)
	}
	return c, nil
}

// UpdateControllerLastRunAt records the timestamp of the most recent
// scheduler tick for this controller.
func (d *DB) UpdateControllerLastRunAt(id string, ts time.Time) error {
	_, err := d.conn.Exec(`UPDATE controllers SET last_run_at = ? WHERE id = ?`, ts.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last_run_at for controller %s: %w", id, err)
	}
	return nil
}

// UpdateControllerEnabled flips a controller's enabled flag, used by the
// debug CLI to stop a runaway controller without editing the config file.
func (d *DB) UpdateControllerEnabled(id string, enabled bool) error {
	_, err := d.conn.Exec(`UPDATE controllers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("update enabled for controller %s: %w", id, err)
	}
	return nil
}

// DeleteController removes a controller, its bound-sensor rows, and its
// action log, all via ON DELETE CASCADE.
func (d *DB) DeleteController(id string) error {
	_, err := d.conn.Exec(`DELETE FROM controllers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete controller %s: %w", id, err)
	}
	return nil
}
