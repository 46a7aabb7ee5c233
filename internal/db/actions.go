package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// Append implements controller.ActionLog.
func (d *DB) Append(a model.ControllerAction) error {
	_, err := d.conn.Exec(`INSERT INTO controller_actions (controller_id, ts, kind, details) VALUES (?, ?, ?, ?)`,
		a.ControllerID, a.Timestamp.UTC().Format(time.RFC3339Nano), string(a.Kind), a.Details)
	if err != nil {
		return fmt.Errorf("append controller action for %s: %w", a.ControllerID, err)
	}
	return nil
}

// ActionsSince retrieves one controller's action log entries at or after
// since, newest last, for the debug/status surface (spec §6 analogue).
func (d *DB) ActionsSince(controllerID string, since time.Time) ([]model.ControllerAction, error) {
	rows, err := d.conn.Query(`SELECT controller_id, ts, kind, details FROM controller_actions WHERE controller_id = ? AND ts >= ? ORDER BY ts ASC`,
		controllerID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query actions for %s: %w", controllerID, err)
	}
	defer rows.Close()

	var out []model.ControllerAction
	for rows.Next() {
		a, err := scanControllerAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeActionsOlderThan deletes every controller_actions row older than
// cutoff, the action-log analogue of PurgeOlderThan.
func (d *DB) PurgeActionsOlderThan(cutoff time.Time) (int64, error) {
	result, err := d.conn.Exec(`DELETE FROM controller_actions WHERE ts < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge controller actions older than %s: %w", cutoff, err)
	}
	return result.RowsAffected()
}

func scanControllerAction(rows *sql.Rows) (model.ControllerAction, error) {
	var a model.ControllerAction
	var ts, kind string
	if err := rows.Scan(&a.ControllerID, &ts, &kind, &a.Details); err != nil {
		return model.ControllerAction{}, fmt.Errorf("scan controller action: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.ControllerAction{}, fmt.Errorf("parse action timestamp %q: %w", ts, err)
	}
	a.Timestamp = parsed
	a.Kind = model.ControllerActionKind(kind)
	return a, nil
}
