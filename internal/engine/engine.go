package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"threatlens/internal/alerts"
	"threatlens/internal/config"
	"threatlens/internal/inference"
	"threatlens/internal/metrics"
	"threatlens/internal/model"
	"threatlens/internal/recommend"
	"threatlens/internal/report"
	"threatlens/internal/severity"
)

// Notifier receives every recorded alert. Implementations must not block.
type Notifier interface {
	Notify(alert model.Alert)
}

// pipeline is the read-only half of the engine. It is replaced as a whole on
// threshold or config changes and never mutated in place.
type pipeline struct {
	classifier *severity.Classifier
	cutoff     float64
	maxPast    time.Duration
	maxFuture  time.Duration
	rules      *inference.Engine
	generator  *recommend.Generator
	reports    *report.Builder
}

type Engine struct {
	logger   *slog.Logger
	alerts   *alerts.Store
	metrics  *metrics.Store
	prom     *metrics.Collectors
	notifier Notifier
	pipe     atomic.Pointer[pipeline]
	mu       sync.Mutex
	now      func() time.Time
	started  time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithCollectors(c *metrics.Collectors) Option {
	return func(e *Engine) { e.prom = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	floor, err := model.ParseSeverity(cfg.Alerts.Floor)
	if err != nil {
		return nil, fmt.Errorf("alerts floor: %w", err)
	}
	e := &Engine{
		alerts:  alerts.NewStore(cfg.Alerts.StoreLimit, floor),
		metrics: metrics.NewStore(cfg.Metrics.Windows),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.alerts.SetClock(e.now)
	e.metrics.SetClock(e.now)
	p, err := e.buildPipeline(cfg, cfg.Severity.Thresholds())
	if err != nil {
		return nil, err
	}
	e.pipe.Store(p)
	e.started = e.now().UTC()
	return e, nil
}

func (e *Engine) buildPipeline(cfg *config.Config, t severity.Thresholds) (*pipeline, error) {
	classifier, err := severity.NewClassifier(t)
	if err != nil {
		return nil, err
	}
	reports := report.NewBuilder(cfg.Report)
	reports.SetClock(e.now)
	return &pipeline{
		classifier: classifier,
		cutoff:     cfg.Severity.ThreatCutoff,
		maxPast:    cfg.Metrics.MaxClockSkew,
		maxFuture:  cfg.Metrics.MaxFutureSkew,
		rules:      inference.NewEngine(cfg.Inference),
		generator:  recommend.NewGenerator(cfg.Inference),
		reports:    reports,
	}, nil
}

// UpdateConfig swaps in the classifier, rule table, generator and alert floor
// derived from cfg. On error the running configuration is kept.
func (e *Engine) UpdateConfig(cfg *config.Config) error {
	floor, err := model.ParseSeverity(cfg.Alerts.Floor)
	if err != nil {
		return fmt.Errorf("alerts floor: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.buildPipeline(cfg, cfg.Severity.Thresholds())
	if err != nil {
		return err
	}
	e.pipe.Store(p)
	e.alerts.SetFloor(floor)
	return nil
}

// UpdateThresholds replaces the severity thresholds. Non-monotonic thresholds
// fail with model.ErrInvalidThresholdOrdering and leave the current ones in place.
func (e *Engine) UpdateThresholds(t severity.Thresholds) error {
	classifier, err := severity.NewClassifier(t)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *e.pipe.Load()
	next.classifier = classifier
	e.pipe.Store(&next)
	if e.logger != nil {
		e.logger.Info("severity thresholds updated", "high", t.High, "medium", t.Medium, "low", t.Low)
	}
	return nil
}

func (e *Engine) Thresholds() severity.Thresholds {
	return e.pipe.Load().classifier.Thresholds()
}

// Start consumes predictions with the given number of workers until ctx is
// done or in is closed. Each worker classifies synchronously.
func (e *Engine) Start(ctx context.Context, in <-chan model.Prediction, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case pr, ok := <-in:
					if !ok {
						return
					}
					_, _ = e.ClassifyAndRecord(pr.Event, pr.Probability)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// ClassifyAndRecord runs one event through severity, attack-type inference and
// recommendations, then records the alert and updates statistics. Invalid
// input is rejected before anything is counted.
func (e *Engine) ClassifyAndRecord(ev model.NetworkEvent, probability float64) (model.Classification, error) {
	if err := model.ValidateProbability(probability); err != nil {
		e.reject("invalid_probability", ev, err)
		return model.Classification{}, err
	}
	if err := ev.Validate(); err != nil {
		e.reject("invalid_event_geometry", ev, err)
		return model.Classification{}, err
	}
	p := e.pipe.Load()
	ev = ev.Clone()
	if ev.Protocol == "" {
		ev.Protocol = model.ProtocolOther
	}
	ev.Timestamp = clampTimestamp(ev.Timestamp, e.now().UTC(), p.maxPast, p.maxFuture)

	sev, err := p.classifier.Classify(probability)
	if err != nil {
		e.reject("invalid_probability", ev, err)
		return model.Classification{}, err
	}
	attackType := p.rules.Infer(ev)
	isThreat := probability >= p.cutoff
	cls := model.Classification{
		Event:             ev,
		ThreatProbability: probability,
		IsThreat:          isThreat,
		Severity:          sev,
		AttackType:        attackType,
		Recommendations:   p.generator.Generate(sev, attackType, ev),
		Explanation:       recommend.Explain(sev, isThreat, probability, attackType, ev),
	}

	alert, recorded := e.alerts.Record(cls)
	e.metrics.Update(cls)
	e.prom.ObserveClassification(cls, recorded)
	e.prom.SetRates(e.metrics.ThreatRate(), e.metrics.AverageConfidence())

	if recorded {
		e.logAlert(alert)
		if e.notifier != nil {
			e.notifier.Notify(alert)
		}
	}
	return cls, nil
}

// clampTimestamp replaces missing or out-of-range event times with now.
func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

func (e *Engine) reject(reason string, ev model.NetworkEvent, err error) {
	e.prom.ObserveRejected(reason)
	if e.logger != nil {
		e.logger.Debug("event rejected",
			"reason", reason,
			"source_ip", ev.SourceIP,
			"dest_port", ev.DestPort,
			"err", err,
		)
	}
}

func (e *Engine) logAlert(a model.Alert) {
	if e.logger == nil {
		return
	}
	level := slog.LevelInfo
	if a.Severity >= model.SeverityMedium {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "alert recorded",
		"alert_id", a.ID,
		"severity", a.Severity.String(),
		"attack_type", a.Classification.AttackType,
		"source_ip", a.Classification.Event.SourceIP,
		"dest_port", a.Classification.Event.DestPort,
		"probability", a.Classification.ThreatProbability,
	)
}

func (e *Engine) GetAlerts(filter model.AlertFilter, limit int) []model.Alert {
	return e.alerts.List(filter, limit)
}

func (e *Engine) GetAlert(id uint64) (model.Alert, error) {
	a, ok := e.alerts.Get(id)
	if !ok {
		return model.Alert{}, fmt.Errorf("%w: %d", model.ErrAlertNotFound, id)
	}
	return a, nil
}

func (e *Engine) AcknowledgeAlert(id uint64, by string) (model.Alert, error) {
	a, err := e.alerts.Acknowledge(id, by)
	if err != nil {
		return model.Alert{}, err
	}
	if e.logger != nil {
		e.logger.Info("alert acknowledged", "alert_id", id, "by", by)
	}
	return a, nil
}

// ClearAlerts removes alerts created before olderThan, or all when nil.
// Statistics are not affected.
func (e *Engine) ClearAlerts(olderThan *time.Time) int {
	n := e.alerts.Clear(olderThan)
	if e.logger != nil && n > 0 {
		e.logger.Info("alerts cleared", "removed", n)
	}
	return n
}

func (e *Engine) GetStatistics() model.AggregateStats {
	return e.metrics.Snapshot()
}

// GetReport reads the aggregator and the alerts inside the report window; it
// changes neither.
func (e *Engine) GetReport(includeHistory bool) model.Report {
	b := e.pipe.Load().reports
	stats := e.metrics.Snapshot()
	windowAlerts := e.alerts.Since(b.WindowStart())
	return b.Build(stats, windowAlerts, includeHistory)
}

type Status struct {
	StartedAt     time.Time `json:"started_at"`
	UptimeSec     int64     `json:"uptime_sec"`
	TotalAnalyzed uint64    `json:"total_analyzed"`
	Alerts        int       `json:"alerts"`
}

func (e *Engine) Status() Status {
	stats := e.metrics.Snapshot()
	return Status{
		StartedAt:     e.started,
		UptimeSec:     int64(e.now().UTC().Sub(e.started).Seconds()),
		TotalAnalyzed: stats.TotalAnalyzed,
		Alerts:        e.alerts.Len(),
	}
}

// ExportState returns the ledger and counters as plain data for persistence.
// Sliding windows are not part of the state.
func (e *Engine) ExportState() model.State {
	list, next := e.alerts.Snapshot()
	stats := e.metrics.Snapshot()
	stats.Windows = nil
	return model.State{
		SavedAt:     e.now().UTC(),
		NextAlertID: next,
		Alerts:      list,
		Stats:       stats,
	}
}

// RestoreState loads persisted state. Inconsistent state fails with
// model.ErrInvalidState and leaves the engine untouched.
func (e *Engine) RestoreState(state model.State) error {
	if err := metrics.ValidateStats(state.Stats); err != nil {
		return err
	}
	if err := e.alerts.Restore(state.Alerts, state.NextAlertID); err != nil {
		return err
	}
	if err := e.metrics.Restore(state.Stats); err != nil {
		return err
	}
	if e.logger != nil {
		e.logger.Info("state restored",
			"alerts", len(state.Alerts),
			"total_analyzed", state.Stats.TotalAnalyzed,
			"saved_at", state.SavedAt,
		)
	}
	return nil
}
