// Package severity maps model confidence scores onto the four severity tiers.
package severity

import (
	"fmt"

	"threatlens/internal/model"
)

// Thresholds are inclusive lower bounds for the HIGH, MEDIUM and LOW tiers.
// Anything below Low is INFO.
type Thresholds struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
	Low    float64 `json:"low" yaml:"low"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.80, Medium: 0.50, Low: 0.30}
}

// Validate requires 0 < Low < Medium < High <= 1 so every tier covers a non-empty range.
func (t Thresholds) Validate() error {
	if !(t.High > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("%w: high=%v medium=%v low=%v", model.ErrInvalidThresholdOrdering, t.High, t.Medium, t.Low)
	}
	if t.Low <= 0 || t.High > 1 {
		return fmt.Errorf("%w: thresholds must lie in (0,1], got high=%v low=%v", model.ErrInvalidThresholdOrdering, t.High, t.Low)
	}
	return nil
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify evaluates tiers from highest to lowest so a value on a boundary
// lands in the higher tier.
func (c *Classifier) Classify(probability float64) (model.Severity, error) {
	if err := model.ValidateProbability(probability); err != nil {
		return model.SeverityInfo, err
	}
	switch {
	case probability >= c.thresholds.High:
		return model.SeverityHigh, nil
	case probability >= c.thresholds.Medium:
		return model.SeverityMedium, nil
	case probability >= c.thresholds.Low:
		return model.SeverityLow, nil
	default:
		return model.SeverityInfo, nil
	}
}
