package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

// snapshotRetention bounds how many stats snapshots the SQL stores keep.
const snapshotRetention = 1000

// Store persists engine state for restart recovery. LoadState reports false
// when nothing has been saved yet.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveState(ctx context.Context, state model.State) error
	LoadState(ctx context.Context) (model.State, bool, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "redis":
		return NewRedis(cfg.Redis)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// baseStore holds the SQL shared by the sqlite and postgres stores. The
// ledger is written as a full replacement so cleared and rotated alerts
// disappear from storage too.
type baseStore struct {
	db     *sql.DB
	schema []string
	bind   func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) SaveState(ctx context.Context, state model.State) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alerts (id, created_at_ns, severity, attack_type, source_ip, dest_port, probability, acknowledged, alert_json)
		VALUES (`+b.placeholders(9)+`)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, a := range state.Alerts {
		c := a.Classification
		if _, err := stmt.ExecContext(ctx,
			int64(a.ID),
			a.CreatedAt.UTC().UnixNano(),
			a.Severity.String(),
			c.AttackType,
			c.Event.SourceIP,
			int(c.Event.DestPort),
			c.ThreatProbability,
			a.Acknowledged,
			encodeJSON(a),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	stats := state.Stats.Clone()
	stats.Windows = nil
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stats_snapshots (saved_at_ns, next_alert_id, total_analyzed, threat_count, benign_count, stats_json)
		VALUES (`+b.placeholders(6)+`)`,
		state.SavedAt.UTC().UnixNano(),
		int64(state.NextAlertID),
		int64(stats.TotalAnalyzed),
		int64(stats.ThreatCount),
		int64(stats.BenignCount),
		encodeJSON(stats),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stats_snapshots WHERE id <= (SELECT MAX(id) FROM stats_snapshots) - `+b.bind(1),
		snapshotRetention,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *baseStore) LoadState(ctx context.Context) (model.State, bool, error) {
	if b.db == nil {
		return model.State{}, false, nil
	}
	var (
		state     model.State
		savedAtNS int64
		nextID    int64
		statsJSON string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT saved_at_ns, next_alert_id, stats_json FROM stats_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&savedAtNS, &nextID, &statsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return model.State{}, false, nil
	}
	if err != nil {
		return model.State{}, false, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &state.Stats); err != nil {
		return model.State{}, false, fmt.Errorf("decode stats snapshot: %w", err)
	}
	state.SavedAt = time.Unix(0, savedAtNS).UTC()
	state.NextAlertID = uint64(nextID)

	rows, err := b.db.QueryContext(ctx, `SELECT alert_json FROM alerts ORDER BY id`)
	if err != nil {
		return model.State{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return model.State{}, false, err
		}
		var a model.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return model.State{}, false, fmt.Errorf("decode alert: %w", err)
		}
		state.Alerts = append(state.Alerts, a)
	}
	if err := rows.Err(); err != nil {
		return model.State{}, false, err
	}
	return state, true, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
