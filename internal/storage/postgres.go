package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/threatlens?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{
		db:     db,
		bind:   func(n int) string { return "$" + strconv.Itoa(n) },
		schema: postgresSchema,
	}}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGINT PRIMARY KEY,
		created_at_ns BIGINT NOT NULL,
		severity TEXT NOT NULL,
		attack_type TEXT NOT NULL,
		source_ip TEXT NOT NULL,
		dest_port INTEGER NOT NULL,
		probability DOUBLE PRECISION NOT NULL,
		acknowledged BOOLEAN NOT NULL,
		alert_json JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at_ns)`,
	`CREATE TABLE IF NOT EXISTS stats_snapshots (
		id BIGSERIAL PRIMARY KEY,
		saved_at_ns BIGINT NOT NULL,
		next_alert_id BIGINT NOT NULL,
		total_analyzed BIGINT NOT NULL,
		threat_count BIGINT NOT NULL,
		benign_count BIGINT NOT NULL,
		stats_json JSONB NOT NULL
	)`,
}
