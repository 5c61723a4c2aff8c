package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/config"
	"threatlens/internal/engine"
	"threatlens/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEvent() model.NetworkEvent {
	return model.NetworkEvent{
		SourceIP:    "203.0.113.7",
		DestIP:      "10.0.0.5",
		DestPort:    22,
		Protocol:    model.ProtocolTCP,
		PacketSize:  64,
		PayloadSize: 24,
		TCPFlags:    model.NewTCPFlags("SYN"),
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteEmptyLoad(t *testing.T) {
	store := newSQLiteForTest(t)
	_, ok, err := store.LoadState(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteForTest(t)

	eng, err := engine.NewEngine(config.DefaultConfig())
	require.NoError(t, err)
	for _, p := range []float64{0.95, 0.6, 0.35, 0.1} {
		_, err := eng.ClassifyAndRecord(sampleEvent(), p)
		require.NoError(t, err)
	}
	_, err = eng.AcknowledgeAlert(2, "analyst")
	require.NoError(t, err)

	require.NoError(t, store.SaveState(ctx, eng.ExportState()))
	state, ok, err := store.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), state.NextAlertID)
	require.Len(t, state.Alerts, 3)
	assert.True(t, state.Alerts[1].Acknowledged)
	assert.Equal(t, "analyst", state.Alerts[1].AcknowledgedBy)
	assert.Equal(t, model.SeverityHigh, state.Alerts[0].Severity)
	assert.Equal(t, uint64(4), state.Stats.TotalAnalyzed)
	assert.Equal(t, uint64(1), state.Stats.SeverityDistribution[model.SeverityInfo])

	restored, err := engine.NewEngine(config.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, restored.RestoreState(state))
	assert.Equal(t, uint64(4), restored.GetStatistics().TotalAnalyzed)

	eng.ClearAlerts(nil)
	require.NoError(t, store.SaveState(ctx, eng.ExportState()))
	state, ok, err = store.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, state.Alerts, "cleared alerts are removed from storage")
	assert.Equal(t, uint64(4), state.NextAlertID)
}

func TestPersisterSavesAndRestores(t *testing.T) {
	store := newSQLiteForTest(t)
	eng, err := engine.NewEngine(config.DefaultConfig())
	require.NoError(t, err)
	_, err = eng.ClassifyAndRecord(sampleEvent(), 0.9)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPersister(eng, store, time.Hour, nil)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	fresh, err := engine.NewEngine(config.DefaultConfig())
	require.NoError(t, err)
	ok, err := NewPersister(fresh, store, time.Hour, nil).Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fresh.GetAlerts(model.AlertFilter{}, 0), 1)
}
