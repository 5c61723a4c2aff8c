package metrics

import (
	"time"

	"threatlens/internal/model"
)

type WindowEntry struct {
	Timestamp  time.Time
	Threat     bool
	Confidence float64
}

// WindowState keeps the classifications whose event time falls inside a
// trailing window. Entries are expected in roughly increasing time order.
type WindowState struct {
	duration      time.Duration
	entries       []WindowEntry
	head          int
	events        int
	threats       int
	confidenceSum float64
}

func NewWindowState(duration time.Duration) *WindowState {
	return &WindowState{
		duration: duration,
		entries:  make([]WindowEntry, 0, 128),
	}
}

func (w *WindowState) Add(e WindowEntry) {
	w.entries = append(w.entries, e)
	w.events++
	if e.Threat {
		w.threats++
	}
	w.confidenceSum += e.Confidence
}

func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		w.events--
		if e.Threat {
			w.threats--
		}
		w.confidenceSum -= e.Confidence
		w.head++
	}
	if w.events == 0 {
		w.confidenceSum = 0
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]WindowEntry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *WindowState) Stats() model.WindowStats {
	ws := model.WindowStats{
		WindowSec: int(w.duration.Seconds()),
		Events:    w.events,
		Threats:   w.threats,
	}
	if w.events > 0 {
		ws.EventsPerSec = float64(w.events) / w.duration.Seconds()
		ws.ThreatRate = float64(w.threats) / float64(w.events)
		ws.AverageConfidence = w.confidenceSum / float64(w.events)
	}
	return ws
}
