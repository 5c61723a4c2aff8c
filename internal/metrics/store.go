package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"threatlens/internal/model"
)

// Store aggregates every classified event. Each Update is applied under the
// write lock, so a Snapshot always reflects a whole number of updates.
type Store struct {
	mu      sync.RWMutex
	stats   model.AggregateStats
	windows []*WindowState
	latest  time.Time
	now     func() time.Time
}

func NewStore(windows []time.Duration) *Store {
	sorted := append([]time.Duration(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	s := &Store{
		stats: emptyStats(),
		now:   time.Now,
	}
	for _, d := range sorted {
		if d <= 0 {
			continue
		}
		s.windows = append(s.windows, NewWindowState(d))
	}
	return s
}

func emptyStats() model.AggregateStats {
	return model.AggregateStats{
		SeverityDistribution: map[model.Severity]uint64{
			model.SeverityHigh:   0,
			model.SeverityMedium: 0,
			model.SeverityLow:    0,
			model.SeverityInfo:   0,
		},
		PerProtocolCount:   make(map[model.Protocol]uint64),
		PerAttackTypeCount: make(map[string]uint64),
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Update(c model.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalAnalyzed++
	if c.IsThreat {
		s.stats.ThreatCount++
	} else {
		s.stats.BenignCount++
	}
	s.stats.SeverityDistribution[c.Severity]++
	s.stats.ConfidenceSum += c.ThreatProbability
	proto := c.Event.Protocol
	if proto == "" {
		proto = model.ProtocolOther
	}
	s.stats.PerProtocolCount[proto]++
	if c.AttackType != "" {
		s.stats.PerAttackTypeCount[c.AttackType]++
	}
	now := s.now().UTC()
	s.stats.UpdatedAt = now

	ts := c.Event.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if ts.After(s.latest) {
		s.latest = ts
	}
	for _, w := range s.windows {
		w.Evict(s.latest.Add(-w.duration))
		if !ts.Before(s.latest.Add(-w.duration)) {
			w.Add(WindowEntry{Timestamp: ts, Threat: c.IsThreat, Confidence: c.ThreatProbability})
		}
	}
}

// Snapshot returns a deep copy that later updates cannot change.
func (s *Store) Snapshot() model.AggregateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats.Clone()
	out.Windows = make([]model.WindowStats, 0, len(s.windows))
	for _, w := range s.windows {
		out.Windows = append(out.Windows, w.Stats())
	}
	return out
}

func (s *Store) ThreatRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.ThreatRate()
}

func (s *Store) AverageConfidence() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.AverageConfidence()
}

// ValidateStats checks the counter invariants persisted stats must satisfy.
func ValidateStats(stats model.AggregateStats) error {
	if stats.TotalAnalyzed != stats.ThreatCount+stats.BenignCount {
		return fmt.Errorf("%w: total_analyzed %d != threat_count %d + benign_count %d",
			model.ErrInvalidState, stats.TotalAnalyzed, stats.ThreatCount, stats.BenignCount)
	}
	var bySeverity uint64
	for _, n := range stats.SeverityDistribution {
		bySeverity += n
	}
	if bySeverity != stats.TotalAnalyzed {
		return fmt.Errorf("%w: severity distribution sums to %d, want %d", model.ErrInvalidState, bySeverity, stats.TotalAnalyzed)
	}
	return nil
}

// Restore replaces the counters with persisted values. Sliding windows start empty.
func (s *Store) Restore(stats model.AggregateStats) error {
	if err := ValidateStats(stats); err != nil {
		return err
	}
	next := emptyStats()
	for k, v := range stats.SeverityDistribution {
		next.SeverityDistribution[k] = v
	}
	for k, v := range stats.PerProtocolCount {
		next.PerProtocolCount[k] = v
	}
	for k, v := range stats.PerAttackTypeCount {
		next.PerAttackTypeCount[k] = v
	}
	next.TotalAnalyzed = stats.TotalAnalyzed
	next.ThreatCount = stats.ThreatCount
	next.BenignCount = stats.BenignCount
	next.ConfidenceSum = stats.ConfidenceSum
	next.UpdatedAt = stats.UpdatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = next
	for i, w := range s.windows {
		s.windows[i] = NewWindowState(w.duration)
	}
	s.latest = time.Time{}
	return nil
}
