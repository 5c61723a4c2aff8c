// Package report composes executive reports from aggregate statistics and the
// alerts raised inside the reporting window. It only reads what it is given.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

type Builder struct {
	cfg config.ReportConfig
	now func() time.Time
}

func NewBuilder(cfg config.ReportConfig) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Builder) Window() time.Duration {
	return b.cfg.Window
}

// WindowStart is the earliest alert creation time that counts toward a report built now.
func (b *Builder) WindowStart() time.Time {
	return b.now().UTC().Add(-b.cfg.Window)
}

type windowCounts struct {
	unackedHigh   int
	unackedMedium int
	medium        int
	attackTypes   map[string]int
}

func countWindow(alerts []model.Alert) windowCounts {
	wc := windowCounts{attackTypes: make(map[string]int)}
	for _, a := range alerts {
		switch a.Severity {
		case model.SeverityHigh:
			if !a.Acknowledged {
				wc.unackedHigh++
			}
		case model.SeverityMedium:
			wc.medium++
			if !a.Acknowledged {
				wc.unackedMedium++
			}
		}
		wc.attackTypes[a.Classification.AttackType]++
	}
	return wc
}

// Build composes a report. windowAlerts are the alerts created inside the
// report window in any order; neither argument is modified.
func (b *Builder) Build(stats model.AggregateStats, windowAlerts []model.Alert, includeHistory bool) model.Report {
	recent := make([]model.Alert, len(windowAlerts))
	for i, a := range windowAlerts {
		recent[i] = a.Clone()
	}
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID > recent[j].ID
	})
	wc := countWindow(recent)
	if b.cfg.RecentLimit > 0 && len(recent) > b.cfg.RecentLimit {
		recent = recent[:b.cfg.RecentLimit]
	}

	banner := b.banner(stats, wc)
	r := model.Report{
		ID:               uuid.New().String(),
		GeneratedAt:      b.now().UTC(),
		WindowSec:        int(b.cfg.Window.Seconds()),
		Banner:           banner,
		ExecutiveSummary: b.summary(banner, stats, wc),
		Stats:            stats.Clone(),
		RecentAlerts:     recent,
		Recommendations:  b.recommendations(stats, wc),
	}
	if includeHistory {
		r.History = &model.HistoryContext{
			TotalHistoricalEvents: stats.TotalAnalyzed,
			HistoricalThreatRate:  stats.ThreatRate(),
			AverageConfidence:     stats.AverageConfidence(),
			Windows:               append([]model.WindowStats(nil), stats.Windows...),
		}
	}
	return r
}

func (b *Builder) banner(stats model.AggregateStats, wc windowCounts) model.Banner {
	switch {
	case wc.unackedHigh > 0:
		return model.BannerCritical
	case wc.unackedMedium > 0 || (stats.TotalAnalyzed > 0 && stats.ThreatRate() > b.cfg.ElevatedThreatRate):
		return model.BannerWarning
	case stats.ThreatCount > 0:
		return model.BannerAdvisory
	default:
		return model.BannerNormal
	}
}

func (b *Builder) summary(banner model.Banner, stats model.AggregateStats, wc windowCounts) string {
	var sb strings.Builder
	switch banner {
	case model.BannerCritical:
		fmt.Fprintf(&sb, "CRITICAL: %d unacknowledged high-severity alert(s) in the last %s. Immediate action required.\n",
			wc.unackedHigh, b.cfg.Window)
	case model.BannerWarning:
		if wc.unackedMedium > 0 {
			fmt.Fprintf(&sb, "WARNING: %d unacknowledged medium-severity alert(s) in the last %s. Action recommended.\n",
				wc.unackedMedium, b.cfg.Window)
		} else {
			fmt.Fprintf(&sb, "WARNING: threat rate %.1f%% is above the %.1f%% alerting band. Action recommended.\n",
				stats.ThreatRate()*100, b.cfg.ElevatedThreatRate*100)
		}
	case model.BannerAdvisory:
		fmt.Fprintf(&sb, "ADVISORY: %d threat(s) detected, none requiring immediate action. Monitoring recommended.\n",
			stats.ThreatCount)
	default:
		sb.WriteString("NORMAL: analyzed traffic appears legitimate. No open threats.\n")
	}
	fmt.Fprintf(&sb, "Analysis summary: %d network events analyzed, %d threats identified (%.1f%% threat rate), average confidence %.1f%%.\n",
		stats.TotalAnalyzed, stats.ThreatCount, stats.ThreatRate()*100, stats.AverageConfidence()*100)
	sb.WriteString("Severity distribution:")
	for _, sev := range model.Severities {
		fmt.Fprintf(&sb, "\n  %s: %d", sev, stats.SeverityDistribution[sev])
	}
	return sb.String()
}

func (b *Builder) recommendations(stats model.AggregateStats, wc windowCounts) []string {
	var out []string
	if wc.unackedHigh > 0 {
		out = append(out,
			"CRITICAL: execute the incident response plan immediately",
			"Engage the security operations center for threat hunting",
		)
	}
	if wc.medium > b.cfg.MediumAlertThreshold {
		out = append(out, "Consider increasing the security monitoring level")
	}
	if stats.TotalAnalyzed > 0 && stats.ThreatRate() > b.cfg.ElevatedThreatRate {
		out = append(out, "High threat rate detected: review network security posture")
	}
	for _, at := range topAttackTypes(wc.attackTypes, 2) {
		out = append(out, fmt.Sprintf("Prioritize remediation for %s (%d alert(s) in window)", at.label, at.count))
	}
	return append(out,
		"Archive this report for compliance and audit purposes",
		"Schedule regular security posture reviews",
		"Update the threat intelligence database with new indicators",
	)
}

type attackCount struct {
	label string
	count int
}

func topAttackTypes(counts map[string]int, n int) []attackCount {
	list := make([]attackCount, 0, len(counts))
	for label, c := range counts {
		if label == "" {
			continue
		}
		list = append(list, attackCount{label: label, count: c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].label < list[j].label
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}
