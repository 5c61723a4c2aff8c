package storage

import (
	"context"
	"log/slog"
	"time"

	"threatlens/internal/model"
)

// StateSource is the engine side of persistence.
type StateSource interface {
	ExportState() model.State
	RestoreState(state model.State) error
}

// Persister saves engine state on a fixed interval and once more on shutdown.
type Persister struct {
	source   StateSource
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

func NewPersister(source StateSource, store Store, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Persister{source: source, store: store, interval: interval, logger: logger}
}

// Restore loads the last saved state into the source. It reports whether a
// state was found.
func (p *Persister) Restore(ctx context.Context) (bool, error) {
	state, ok, err := p.store.LoadState(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := p.source.RestoreState(state); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Persister) SaveNow(ctx context.Context) error {
	state := p.source.ExportState()
	if err := p.store.SaveState(ctx, state); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Debug("state saved", "alerts", len(state.Alerts), "total_analyzed", state.Stats.TotalAnalyzed)
	}
	return nil
}

func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.SaveNow(ctx); err != nil && p.logger != nil {
				p.logger.Warn("state save failed", "err", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.SaveNow(final); err != nil && p.logger != nil {
				p.logger.Warn("final state save failed", "err", err)
			}
			cancel()
			return
		}
	}
}
