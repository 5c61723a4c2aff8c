package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cls(p float64, threat bool, sev model.Severity, proto model.Protocol, ts time.Time) model.Classification {
	return model.Classification{
		Event:             model.NetworkEvent{Protocol: proto, Timestamp: ts},
		ThreatProbability: p,
		IsThreat:          threat,
		Severity:          sev,
		AttackType:        "Unclassified",
	}
}

func TestZeroStateGuards(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, 0.0, s.ThreatRate())
	assert.Equal(t, 0.0, s.AverageConfidence())
	snap := s.Snapshot()
	assert.Equal(t, uint64(0), snap.TotalAnalyzed)
	assert.Len(t, snap.SeverityDistribution, 4)
}

func TestUpdateCounts(t *testing.T) {
	s := NewStore(nil)
	s.Update(cls(0.9, true, model.SeverityHigh, model.ProtocolTCP, base))
	s.Update(cls(0.1, false, model.SeverityInfo, model.ProtocolUDP, base))
	s.Update(cls(0.5, true, model.SeverityMedium, model.ProtocolTCP, base))
	s.Update(cls(0.0, false, model.SeverityInfo, "", base))

	snap := s.Snapshot()
	assert.Equal(t, uint64(4), snap.TotalAnalyzed)
	assert.Equal(t, uint64(2), snap.ThreatCount)
	assert.Equal(t, uint64(2), snap.BenignCount)
	assert.Equal(t, uint64(2), snap.SeverityDistribution[model.SeverityInfo])
	assert.Equal(t, uint64(2), snap.PerProtocolCount[model.ProtocolTCP])
	assert.Equal(t, uint64(1), snap.PerProtocolCount[model.ProtocolOther])
	assert.Equal(t, uint64(4), snap.PerAttackTypeCount["Unclassified"])
	assert.InDelta(t, 0.5, s.ThreatRate(), 1e-9)
	assert.InDelta(t, 0.375, s.AverageConfidence(), 1e-9)
}

func TestSnapshotIdempotentAndDetached(t *testing.T) {
	s := NewStore([]time.Duration{time.Minute})
	s.Update(cls(0.9, true, model.SeverityHigh, model.ProtocolTCP, base))
	a := s.Snapshot()
	b := s.Snapshot()
	assert.Equal(t, a, b)

	a.SeverityDistribution[model.SeverityHigh] = 100
	a.PerProtocolCount[model.ProtocolTCP] = 100
	c := s.Snapshot()
	assert.Equal(t, b, c)
}

func TestWindowsEvictOldEvents(t *testing.T) {
	s := NewStore([]time.Duration{time.Hour, time.Minute})
	s.Update(cls(0.9, true, model.SeverityHigh, model.ProtocolTCP, base))
	s.Update(cls(0.1, false, model.SeverityInfo, model.ProtocolTCP, base.Add(30*time.Second)))
	s.Update(cls(0.2, false, model.SeverityInfo, model.ProtocolTCP, base.Add(2*time.Minute)))

	snap := s.Snapshot()
	require.Len(t, snap.Windows, 2)
	minute, hour := snap.Windows[0], snap.Windows[1]
	assert.Equal(t, 60, minute.WindowSec)
	assert.Equal(t, 1, minute.Events)
	assert.Equal(t, 0.0, minute.ThreatRate)
	assert.Equal(t, 3600, hour.WindowSec)
	assert.Equal(t, 3, hour.Events)
	assert.Equal(t, 1, hour.Threats)
	assert.InDelta(t, 0.4, hour.AverageConfidence, 1e-9)
	assert.Equal(t, uint64(3), snap.TotalAnalyzed)
}

func TestConcurrentUpdatesKeepInvariant(t *testing.T) {
	s := NewStore([]time.Duration{time.Minute})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				threat := (i+w)%3 == 0
				s.Update(cls(0.5, threat, model.SeverityMedium, model.ProtocolTCP, base.Add(time.Duration(i)*time.Millisecond)))
				snap := s.Snapshot()
				if snap.TotalAnalyzed != snap.ThreatCount+snap.BenignCount {
					t.Errorf("torn snapshot: %d != %d + %d", snap.TotalAnalyzed, snap.ThreatCount, snap.BenignCount)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	snap := s.Snapshot()
	assert.Equal(t, uint64(4000), snap.TotalAnalyzed)
	assert.Equal(t, snap.TotalAnalyzed, snap.ThreatCount+snap.BenignCount)
}

func TestRestoreValidatesInvariant(t *testing.T) {
	s := NewStore(nil)
	err := s.Restore(model.AggregateStats{TotalAnalyzed: 3, ThreatCount: 1, BenignCount: 1})
	assert.ErrorIs(t, err, model.ErrInvalidState)

	good := model.AggregateStats{
		TotalAnalyzed:        2,
		ThreatCount:          1,
		BenignCount:          1,
		ConfidenceSum:        1.0,
		SeverityDistribution: map[model.Severity]uint64{model.SeverityHigh: 1, model.SeverityInfo: 1},
	}
	require.NoError(t, s.Restore(good))
	s.Update(cls(0.5, true, model.SeverityMedium, model.ProtocolTCP, base))
	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.TotalAnalyzed)
	assert.InDelta(t, 0.5, snap.AverageConfidence(), 1e-9)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollectors(reg)
	require.NoError(t, err)

	c.ObserveClassification(cls(0.9, true, model.SeverityHigh, model.ProtocolTCP, base), true)
	c.ObserveClassification(cls(0.1, false, model.SeverityInfo, model.ProtocolTCP, base), false)
	c.ObserveRejected("invalid_probability")
	c.SetRates(0.5, 0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.classified.WithLabelValues("HIGH", "TCP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alerts.WithLabelValues("HIGH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.alerts.WithLabelValues("INFO")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.attackTypes.WithLabelValues("Unclassified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("invalid_probability")))
	assert.Equal(t, 0.5, testutil.ToFloat64(c.threatRate))

	var nilCollectors *Collectors
	nilCollectors.ObserveRejected("x")
}
