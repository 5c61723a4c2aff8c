package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"threatlens/internal/model"
)

// Collectors exports pipeline counters to Prometheus. A nil *Collectors is a no-op.
type Collectors struct {
	classified        *prometheus.CounterVec
	attackTypes       *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	rejected          *prometheus.CounterVec
	threatRate        prometheus.Gauge
	averageConfidence prometheus.Gauge
}

func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		classified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_events_classified_total",
				Help: "Classified network events by severity and protocol",
			},
			[]string{"severity", "protocol"},
		),
		attackTypes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_attack_types_total",
				Help: "Classified network events by inferred attack type",
			},
			[]string{"attack_type"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_alerts_recorded_total",
				Help: "Alerts appended to the ledger by severity",
			},
			[]string{"severity"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatlens_events_rejected_total",
				Help: "Events rejected before classification",
			},
			[]string{"reason"},
		),
		threatRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threatlens_threat_rate",
			Help: "Fraction of analyzed events classified as threats",
		}),
		averageConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "threatlens_average_confidence",
			Help: "Mean threat probability over all analyzed events",
		}),
	}
	for _, col := range []prometheus.Collector{c.classified, c.attackTypes, c.alerts, c.rejected, c.threatRate, c.averageConfidence} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collectors) ObserveClassification(cls model.Classification, alerted bool) {
	if c == nil {
		return
	}
	proto := cls.Event.Protocol
	if proto == "" {
		proto = model.ProtocolOther
	}
	c.classified.WithLabelValues(cls.Severity.String(), string(proto)).Inc()
	c.attackTypes.WithLabelValues(cls.AttackType).Inc()
	if alerted {
		c.alerts.WithLabelValues(cls.Severity.String()).Inc()
	}
}

func (c *Collectors) ObserveRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collectors) SetRates(threatRate, averageConfidence float64) {
	if c == nil {
		return
	}
	c.threatRate.Set(threatRate)
	c.averageConfidence.Set(averageConfidence)
}
