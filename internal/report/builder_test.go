package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newBuilder() *Builder {
	b := NewBuilder(config.DefaultConfig().Report)
	b.SetClock(func() time.Time { return now })
	return b
}

func stats(total, threats uint64, dist map[model.Severity]uint64) model.AggregateStats {
	return model.AggregateStats{
		TotalAnalyzed:        total,
		ThreatCount:          threats,
		BenignCount:          total - threats,
		ConfidenceSum:        float64(threats) * 0.9,
		SeverityDistribution: dist,
		PerProtocolCount:     map[model.Protocol]uint64{},
		PerAttackTypeCount:   map[string]uint64{},
	}
}

func alert(id uint64, sev model.Severity, acked bool, attack string) model.Alert {
	return model.Alert{
		ID:           id,
		CreatedAt:    now.Add(-time.Duration(10-id) * time.Minute),
		Severity:     sev,
		Acknowledged: acked,
		Classification: model.Classification{
			Severity:   sev,
			AttackType: attack,
		},
	}
}

func TestNormalBanner(t *testing.T) {
	r := newBuilder().Build(stats(10, 0, map[model.Severity]uint64{model.SeverityInfo: 10}), nil, false)
	assert.Equal(t, model.BannerNormal, r.Banner)
	assert.True(t, strings.HasPrefix(r.ExecutiveSummary, "NORMAL"))
	assert.Contains(t, r.ExecutiveSummary, "10 network events analyzed")
	assert.Nil(t, r.History)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, now, r.GeneratedAt)
	assert.Equal(t, []string{
		"Archive this report for compliance and audit purposes",
		"Schedule regular security posture reviews",
		"Update the threat intelligence database with new indicators",
	}, r.Recommendations)
}

func TestCriticalWhenUnacknowledgedHigh(t *testing.T) {
	alerts := []model.Alert{
		alert(1, model.SeverityHigh, false, "Potential SSH Brute Force"),
		alert(2, model.SeverityMedium, false, "Potential Port Scan"),
	}
	r := newBuilder().Build(stats(100, 2, map[model.Severity]uint64{model.SeverityHigh: 1, model.SeverityMedium: 1, model.SeverityInfo: 98}), alerts, false)
	assert.Equal(t, model.BannerCritical, r.Banner)
	assert.True(t, strings.HasPrefix(r.ExecutiveSummary, "CRITICAL: 1 unacknowledged"))
	assert.Equal(t, "CRITICAL: execute the incident response plan immediately", r.Recommendations[0])
	require.Len(t, r.RecentAlerts, 2)
	assert.Equal(t, uint64(2), r.RecentAlerts[0].ID, "most recent first")
}

func TestAcknowledgedHighIsNotCritical(t *testing.T) {
	alerts := []model.Alert{alert(1, model.SeverityHigh, true, "Potential RDP Attack")}
	r := newBuilder().Build(stats(100, 1, map[model.Severity]uint64{model.SeverityHigh: 1, model.SeverityInfo: 99}), alerts, false)
	assert.Equal(t, model.BannerAdvisory, r.Banner)
	assert.Contains(t, r.Recommendations, "Prioritize remediation for Potential RDP Attack (1 alert(s) in window)")
}

func TestWarningOnElevatedThreatRate(t *testing.T) {
	r := newBuilder().Build(stats(10, 3, map[model.Severity]uint64{model.SeverityLow: 3, model.SeverityInfo: 7}), nil, false)
	assert.Equal(t, model.BannerWarning, r.Banner)
	assert.Contains(t, r.ExecutiveSummary, "threat rate 30.0%")
	assert.Contains(t, r.Recommendations, "High threat rate detected: review network security posture")
}

func TestThreatRateAtBandIsNotElevated(t *testing.T) {
	r := newBuilder().Build(stats(10, 2, map[model.Severity]uint64{model.SeverityLow: 2, model.SeverityInfo: 8}), nil, false)
	assert.Equal(t, model.BannerAdvisory, r.Banner)
	assert.NotContains(t, r.Recommendations, "High threat rate detected: review network security posture")
}

func TestMediumVolumeRecommendation(t *testing.T) {
	var alerts []model.Alert
	for i := uint64(1); i <= 6; i++ {
		alerts = append(alerts, alert(i, model.SeverityMedium, true, "Potential Port Scan"))
	}
	r := newBuilder().Build(stats(100, 6, map[model.Severity]uint64{model.SeverityMedium: 6, model.SeverityInfo: 94}), alerts, false)
	assert.Contains(t, r.Recommendations, "Consider increasing the security monitoring level")
}

func TestHistoryAndLimit(t *testing.T) {
	cfg := config.DefaultConfig().Report
	cfg.RecentLimit = 2
	b := NewBuilder(cfg)
	b.SetClock(func() time.Time { return now })
	alerts := []model.Alert{
		alert(1, model.SeverityLow, false, "Unclassified"),
		alert(2, model.SeverityLow, false, "Unclassified"),
		alert(3, model.SeverityLow, false, "Unclassified"),
	}
	s := stats(10, 1, map[model.Severity]uint64{model.SeverityLow: 3, model.SeverityInfo: 7})
	s.Windows = []model.WindowStats{{WindowSec: 60, Events: 4}}
	r := b.Build(s, alerts, true)
	require.Len(t, r.RecentAlerts, 2)
	assert.Equal(t, []uint64{3, 2}, []uint64{r.RecentAlerts[0].ID, r.RecentAlerts[1].ID})
	require.NotNil(t, r.History)
	assert.Equal(t, uint64(10), r.History.TotalHistoricalEvents)
	assert.InDelta(t, 0.1, r.History.HistoricalThreatRate, 1e-9)
	assert.Len(t, r.History.Windows, 1)
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	alerts := []model.Alert{
		alert(1, model.SeverityHigh, false, "Potential SSH Brute Force"),
		alert(2, model.SeverityHigh, false, "Potential SSH Brute Force"),
	}
	s := stats(5, 2, map[model.Severity]uint64{model.SeverityHigh: 2, model.SeverityInfo: 3})
	r := newBuilder().Build(s, alerts, true)
	r.Stats.SeverityDistribution[model.SeverityHigh] = 99
	r.RecentAlerts[0].Acknowledged = true

	assert.Equal(t, uint64(1), alerts[0].ID, "input order preserved")
	assert.False(t, alerts[1].Acknowledged)
	assert.Equal(t, uint64(2), s.SeverityDistribution[model.SeverityHigh])
}
