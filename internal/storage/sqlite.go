package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:threatlens.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{
		db:     db,
		bind:   func(int) string { return "?" },
		schema: sqliteSchema,
	}}, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY,
		created_at_ns INTEGER NOT NULL,
		severity TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		source_ip TEXT NOT NULL,
		dest_port INTEGER NOT NULL,
		probability REAL NOT NULL,
		acknowledged BOOLEAN NOT NULL,
		alert_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at_ns)`,
	`CREATE TABLE IF NOT EXISTS stats_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		saved_at_ns INTEGER NOT NULL,
		next_alert_id INTEGER NOT NULL,
		total_analyzed INTEGER NOT NULL,
		threat_count INTEGER NOT NULL,
		benign_count INTEGER NOT NULL,
		stats_json TEXT NOT NULL
	)`,
}
