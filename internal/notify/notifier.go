// Package notify fans recorded alerts out to message buses.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

// Publisher delivers one encoded alert. key groups related messages.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Message is the wire form of a notified alert.
type Message struct {
	AlertID         uint64    `json:"alert_id"`
	CreatedAt       time.Time `json:"created_at"`
	Severity        string    `json:"severity"`
	AttackType      string    `json:"attack_type"`
	Probability     float64   `json:"probability"`
	SourceIP        string    `json:"source_ip"`
	DestIP          string    `json:"dest_ip"`
	DestPort        uint16    `json:"dest_port"`
	Protocol        string    `json:"protocol"`
	Recommendations []string  `json:"recommendations"`
}

func NewMessage(a model.Alert) Message {
	c := a.Classification
	return Message{
		AlertID:         a.ID,
		CreatedAt:       a.CreatedAt,
		Severity:        a.Severity.String(),
		AttackType:      c.AttackType,
		Probability:     c.ThreatProbability,
		SourceIP:        c.Event.SourceIP,
		DestIP:          c.Event.DestIP,
		DestPort:        c.Event.DestPort,
		Protocol:        string(c.Event.Protocol),
		Recommendations: append([]string(nil), c.Recommendations...),
	}
}

// drainTimeout bounds how long Run keeps publishing queued alerts after ctx is
// done.
const drainTimeout = 5 * time.Second

type dispatchSettings struct {
	minSeverity model.Severity
	cooldown    time.Duration
}

// Dispatcher queues alerts at or above the minimum severity and publishes them
// from Run. Notify never blocks; a full queue drops the alert.
type Dispatcher struct {
	logger     *slog.Logger
	settings   atomic.Pointer[dispatchSettings]
	throttle   *Cooldown
	publishers []Publisher
	queue      chan model.Alert
}

func NewDispatcher(cfg config.NotifyConfig, logger *slog.Logger, publishers ...Publisher) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:     logger,
		throttle:   NewCooldown(),
		publishers: publishers,
		queue:      make(chan model.Alert, 1024),
	}
	if err := d.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateConfig swaps the severity floor and cooldown. Publishers are fixed for
// the life of the Dispatcher.
func (d *Dispatcher) UpdateConfig(cfg config.NotifyConfig) error {
	minSev, err := model.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		return fmt.Errorf("notify min_severity: %w", err)
	}
	d.settings.Store(&dispatchSettings{minSeverity: minSev, cooldown: cfg.Cooldown})
	return nil
}

func (d *Dispatcher) Notify(a model.Alert) {
	set := d.settings.Load()
	if len(d.publishers) == 0 || a.Severity < set.minSeverity {
		return
	}
	c := a.Classification
	if !d.throttle.Allow(c.Event.SourceIP, c.AttackType, set.cooldown) {
		return
	}
	select {
	case d.queue <- a:
	default:
		if d.logger != nil {
			d.logger.Warn("notify queue full, dropping alert", "alert_id", a.ID)
		}
	}
}

// Run publishes queued alerts until ctx is done. It then publishes whatever is
// still queued, bounded by drainTimeout, and closes the publishers.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		if err := d.Close(); err != nil && d.logger != nil {
			d.logger.Warn("notify close error", "err", err)
		}
	}()
	for {
		select {
		case a := <-d.queue:
			d.publish(ctx, a)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case a := <-d.queue:
			d.publish(ctx, a)
		case <-ctx.Done():
			if d.logger != nil {
				d.logger.Warn("notify drain timed out", "pending", len(d.queue))
			}
			return
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, a model.Alert) {
	payload, err := json.Marshal(NewMessage(a))
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("notify encode error", "alert_id", a.ID, "err", err)
		}
		return
	}
	key := a.Classification.Event.SourceIP
	for _, p := range d.publishers {
		if err := p.Publish(ctx, key, payload); err != nil && d.logger != nil {
			d.logger.Warn("notify publish error", "publisher", p.Name(), "alert_id", a.ID, "err", err)
		}
	}
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
