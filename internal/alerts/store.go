package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"threatlens/internal/model"
)

// Store is the alert ledger. Alerts are kept in id order; once the limit is
// reached the oldest alert is rotated out on every append.
type Store struct {
	mu     sync.RWMutex
	buf    []model.Alert
	limit  int
	floor  model.Severity
	nextID uint64
	now    func() time.Time
}

func NewStore(limit int, floor model.Severity) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, floor: floor, nextID: 1, now: time.Now}
}

func (s *Store) SetFloor(floor model.Severity) {
	s.mu.Lock()
	s.floor = floor
	s.mu.Unlock()
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Record appends an alert when the classification is at or above the floor.
// The returned bool reports whether an alert was created.
func (s *Store) Record(c model.Classification) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Severity < s.floor {
		return model.Alert{}, false
	}
	alert := model.Alert{
		ID:             s.nextID,
		CreatedAt:      s.now().UTC(),
		Severity:       c.Severity,
		Classification: c.Clone(),
	}
	s.nextID++
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
	} else {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = alert
	}
	return alert.Clone(), true
}

func (s *Store) index(id uint64) int {
	i := sort.Search(len(s.buf), func(i int) bool { return s.buf[i].ID >= id })
	if i < len(s.buf) && s.buf[i].ID == id {
		return i
	}
	return -1
}

func (s *Store) Acknowledge(id uint64, by string) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return model.Alert{}, fmt.Errorf("%w: %d", model.ErrAlertNotFound, id)
	}
	a := &s.buf[i]
	if a.Acknowledged {
		return model.Alert{}, fmt.Errorf("%w: %d by %s", model.ErrAlertAlreadyAcknowledged, id, a.AcknowledgedBy)
	}
	ts := s.now().UTC()
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &ts
	return a.Clone(), nil
}

func (s *Store) Get(id uint64) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return model.Alert{}, false
	}
	return s.buf[i].Clone(), true
}

// List returns matching alerts most recent first. limit <= 0 means no bound.
// Alerts created at the same instant are ordered by descending id.
func (s *Store) List(filter model.AlertFilter, limit int) []model.Alert {
	s.mu.RLock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if filter.Match(s.buf[i]) {
			out = append(out, s.buf[i].Clone())
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Since returns alerts created at or after ts, oldest first.
func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.CreatedAt.Before(ts) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Clear drops alerts created before olderThan, or every alert when olderThan
// is nil. It returns how many were removed. Ids are never reused.
func (s *Store) Clear(olderThan *time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if olderThan == nil {
		n := len(s.buf)
		s.buf = nil
		return n
	}
	kept := s.buf[:0]
	for _, a := range s.buf {
		if !a.CreatedAt.Before(*olderThan) {
			kept = append(kept, a)
		}
	}
	removed := len(s.buf) - len(kept)
	for i := len(kept); i < len(s.buf); i++ {
		s.buf[i] = model.Alert{}
	}
	s.buf = kept
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Snapshot copies the ledger contents and the next id to assign.
func (s *Store) Snapshot() ([]model.Alert, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, len(s.buf))
	for i, a := range s.buf {
		out[i] = a.Clone()
	}
	return out, s.nextID
}

// Restore replaces the ledger with persisted alerts. nextID is raised above the
// highest restored id so new ids stay strictly increasing.
func (s *Store) Restore(alerts []model.Alert, nextID uint64) error {
	restored := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity != a.Classification.Severity {
			return fmt.Errorf("%w: alert %d severity %s does not match classification %s",
				model.ErrInvalidState, a.ID, a.Severity, a.Classification.Severity)
		}
		restored = append(restored, a.Clone())
	}
	sort.Slice(restored, func(i, j int) bool { return restored[i].ID < restored[j].ID })
	for i := 1; i < len(restored); i++ {
		if restored[i].ID == restored[i-1].ID {
			return fmt.Errorf("%w: duplicate alert id %d", model.ErrInvalidState, restored[i].ID)
		}
	}
	if n := len(restored); n > 0 && restored[n-1].ID >= nextID {
		nextID = restored[n-1].ID + 1
	}
	if nextID == 0 {
		nextID = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(restored) > s.limit {
		restored = restored[len(restored)-s.limit:]
	}
	s.buf = restored
	s.nextID = nextID
	return nil
}
