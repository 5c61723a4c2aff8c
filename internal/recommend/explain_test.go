package recommend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"threatlens/internal/inference"
	"threatlens/internal/model"
)

func TestExplainConfidenceBands(t *testing.T) {
	cases := []struct {
		p      float64
		prefix string
	}{
		{1.0, "Very high confidence"},
		{0.9, "Very high confidence"},
		{0.8999, "High confidence"},
		{0.7, "High confidence"},
		{0.6999, "Moderate confidence"},
		{0.5, "Moderate confidence"},
		{0.4999, "Low confidence"},
		{0.0, "Low confidence"},
	}
	for _, tc := range cases {
		got := confidenceBand(tc.p)
		assert.True(t, strings.HasPrefix(got, tc.prefix), "p=%v got %q", tc.p, got)
	}
}

func TestExplainThreat(t *testing.T) {
	e := Explain(model.SeverityHigh, true, 0.953, inference.LabelSSHBruteForce, sshEvent)
	assert.Equal(t, "Security threat detected: HIGH severity", e.Title)
	assert.Equal(t, "CRITICAL: immediate action required", e.Urgency)
	assert.Equal(t, "High risk to system security", e.Impact)
	assert.Equal(t, "95.3%", e.Confidence)
	assert.Contains(t, e.Description, "203.0.113.7 connecting to 10.0.0.5 on port 22 over TCP")
	assert.Contains(t, e.Description, inference.LabelSSHBruteForce)
	assert.Contains(t, e.Detail, "Very high confidence")

	e = Explain(model.SeverityMedium, true, 0.6, inference.Unclassified, model.NetworkEvent{DestPort: 8080})
	assert.Equal(t, "WARNING: action required soon", e.Urgency)
	assert.NotContains(t, e.Description, inference.Unclassified)
	assert.Contains(t, e.Description, "unknown connecting to unknown on port 8080 over OTHER")
	assert.Contains(t, e.Detail, "Moderate confidence")
}

func TestExplainBenign(t *testing.T) {
	e := Explain(model.SeverityInfo, false, 0.2, inference.Unclassified, sshEvent)
	assert.Equal(t, "Normal network activity", e.Title)
	assert.Equal(t, "80.0% (benign)", e.Confidence)
	assert.Equal(t, "No security impact", e.Impact)
	assert.Contains(t, e.Description, "203.0.113.7 to 10.0.0.5 over TCP")
}
