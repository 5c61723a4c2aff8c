package recommend

import (
	"fmt"
	"strings"

	"threatlens/internal/inference"
	"threatlens/internal/model"
)

type severityText struct {
	urgency string
	impact  string
}

var severityTexts = map[model.Severity]severityText{
	model.SeverityHigh:   {"CRITICAL: immediate action required", "High risk to system security"},
	model.SeverityMedium: {"WARNING: action required soon", "Moderate risk to system security"},
	model.SeverityLow:    {"ADVISORY: monitor the situation", "Low risk to system security"},
	model.SeverityInfo:   {"INFORMATIONAL: no immediate action needed", "Minimal or no security impact"},
}

// Confidence bands for the explanation detail. Lower bounds are inclusive.
const (
	bandVeryHigh = 0.9
	bandHigh     = 0.7
	bandModerate = 0.5
)

// Explain describes a single verdict for an operator. Benign verdicts report
// the complement of probability as the confidence that traffic is normal.
func Explain(sev model.Severity, isThreat bool, probability float64, attackType string, ev model.NetworkEvent) model.Explanation {
	src, dst := orUnknown(ev.SourceIP), orUnknown(ev.DestIP)
	proto := strings.ToUpper(string(ev.Protocol))
	if proto == "" {
		proto = strings.ToUpper(string(model.ProtocolOther))
	}

	if !isThreat {
		return model.Explanation{
			Title: "Normal network activity",
			Description: fmt.Sprintf("Traffic from %s to %s over %s appears legitimate. Confidence that this is normal activity: %.1f%%.",
				src, dst, proto, (1-probability)*100),
			Urgency:    "NONE: normal traffic",
			Impact:     "No security impact",
			Confidence: fmt.Sprintf("%.1f%% (benign)", (1-probability)*100),
			Detail: "The traffic pattern is consistent with normal network behavior " +
				"and matches what authorized applications and users produce.",
		}
	}

	text, ok := severityTexts[sev]
	if !ok {
		text = severityTexts[model.SeverityInfo]
	}
	desc := fmt.Sprintf("Potential threat detected with %.1f%% confidence: %s connecting to %s on port %d over %s.",
		probability*100, src, dst, ev.DestPort, proto)
	if attackType != "" && attackType != inference.Unclassified {
		desc += fmt.Sprintf(" The pattern is consistent with %s.", attackType)
	}
	return model.Explanation{
		Title:       fmt.Sprintf("Security threat detected: %s severity", sev),
		Description: desc,
		Urgency:     text.urgency,
		Impact:      text.impact,
		Confidence:  fmt.Sprintf("%.1f%%", probability*100),
		Detail: fmt.Sprintf("The model flagged unusual patterns in this traffic with %.1f%% confidence. %s",
			probability*100, confidenceBand(probability)),
	}
}

func confidenceBand(p float64) string {
	switch {
	case p >= bandVeryHigh:
		return "Very high confidence: the activity closely matches learned attack patterns."
	case p >= bandHigh:
		return "High confidence: several characteristics indicate malicious intent."
	case p >= bandModerate:
		return "Moderate confidence: some characteristics are suspicious but the activity may be legitimate. Investigate further."
	default:
		return "Low confidence: mild suspicion only. This may be a false positive but should be monitored."
	}
}
