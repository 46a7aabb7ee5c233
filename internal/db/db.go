// Package db is the sqlite persistence layer (spec §6's persisted state):
// sensors, controllers and their bound-sensor roles, measurements, and the
// controller action log. It implements store.Persister and
// controller.ActionLog so the rest of the runtime depends only on those
// interfaces, not on database/sql.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a sqlite connection opened against the service's state file.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and applies the
// schema. Safe to call against an existing, already-seeded file.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // single-writer; sqlite serializes anyway

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}
