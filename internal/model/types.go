package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolICMP  Protocol = "ICMP"
	ProtocolOther Protocol = "OTHER"
)

// ParseProtocol accepts protocol names and IANA protocol numbers.
func ParseProtocol(value string) Protocol {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TCP", "6":
		return ProtocolTCP
	case "UDP", "17":
		return ProtocolUDP
	case "ICMP", "1":
		return ProtocolICMP
	default:
		return ProtocolOther
	}
}

// Severity tiers are ordered: SeverityInfo < SeverityLow < SeverityMedium < SeverityHigh.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

// Severities lists every tier from highest to lowest.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	case SeverityInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

func ParseSeverity(value string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "LOW":
		return SeverityLow, nil
	case "INFO":
		return SeverityInfo, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", value)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TCPFlags is a sorted, de-duplicated set of upper-case flag tokens.
type TCPFlags []string

func NewTCPFlags(tokens ...string) TCPFlags {
	seen := make(map[string]struct{}, len(tokens))
	out := make(TCPFlags, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseTCPFlags splits on commas, pipes and whitespace.
func ParseTCPFlags(value string) TCPFlags {
	return NewTCPFlags(strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '|' || r == ' ' || r == '\t' || r == ';'
	})...)
}

func (f TCPFlags) Has(flag string) bool {
	flag = strings.ToUpper(flag)
	for _, v := range f {
		if v == flag {
			return true
		}
	}
	return false
}

func (f TCPFlags) String() string {
	return strings.Join(f, ",")
}

// NetworkEvent is one analyzed network interaction. It is treated as immutable once
// it enters the engine; Clone is used wherever the engine keeps a copy.
type NetworkEvent struct {
	SourceIP    string    `json:"source_ip"`
	DestIP      string    `json:"dest_ip"`
	SourcePort  uint16    `json:"source_port"`
	DestPort    uint16    `json:"dest_port"`
	Protocol    Protocol  `json:"protocol"`
	PacketSize  uint32    `json:"packet_size"`
	PayloadSize uint32    `json:"payload_size"`
	TCPFlags    TCPFlags  `json:"tcp_flags,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e NetworkEvent) Validate() error {
	if e.PayloadSize > e.PacketSize {
		return fmt.Errorf("%w: payload_size %d exceeds packet_size %d", ErrInvalidEventGeometry, e.PayloadSize, e.PacketSize)
	}
	return nil
}

func (e NetworkEvent) Clone() NetworkEvent {
	out := e
	if e.TCPFlags != nil {
		out.TCPFlags = append(TCPFlags(nil), e.TCPFlags...)
	}
	return out
}

// Prediction is what the external predictor hands to the engine.
type Prediction struct {
	Event       NetworkEvent `json:"event"`
	Probability float64      `json:"probability"`
}

func ValidateProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: %s", ErrInvalidProbability, strconv.FormatFloat(p, 'g', -1, 64))
	}
	return nil
}

type Classification struct {
	Event             NetworkEvent `json:"event"`
	ThreatProbability float64      `json:"threat_probability"`
	IsThreat          bool         `json:"is_threat"`
	Severity          Severity     `json:"severity"`
	AttackType        string       `json:"attack_type"`
	Recommendations   []string     `json:"recommendations"`
	Explanation       Explanation  `json:"explanation"`
}

// Explanation is the plain-language account of one verdict.
type Explanation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Urgency     string `json:"urgency"`
	Impact      string `json:"impact"`
	Confidence  string `json:"confidence"`
	Detail      string `json:"detail"`
}

func (c Classification) Clone() Classification {
	out := c
	out.Event = c.Event.Clone()
	out.Recommendations = append([]string(nil), c.Recommendations...)
	return out
}

type Alert struct {
	ID             uint64         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	Severity       Severity       `json:"severity"`
	Classification Classification `json:"classification"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}

func (a Alert) Clone() Alert {
	out := a
	out.Classification = a.Classification.Clone()
	if a.AcknowledgedAt != nil {
		ts := *a.AcknowledgedAt
		out.AcknowledgedAt = &ts
	}
	return out
}

// AlertFilter selects alerts by severity and acknowledgement; nil fields match everything.
type AlertFilter struct {
	Severity     *Severity `json:"severity,omitempty"`
	Acknowledged *bool     `json:"acknowledged,omitempty"`
}

func (f AlertFilter) Match(a Alert) bool {
	if f.Severity != nil && a.Severity != *f.Severity {
		return false
	}
	if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
		return false
	}
	return true
}

type WindowStats struct {
	WindowSec         int     `json:"window_sec"`
	Events            int     `json:"events"`
	Threats           int     `json:"threats"`
	EventsPerSec      float64 `json:"events_per_sec"`
	ThreatRate        float64 `json:"threat_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

type AggregateStats struct {
	TotalAnalyzed        uint64              `json:"total_analyzed"`
	ThreatCount          uint64              `json:"threat_count"`
	BenignCount          uint64              `json:"benign_count"`
	SeverityDistribution map[Severity]uint64 `json:"severity_distribution"`
	ConfidenceSum        float64             `json:"confidence_sum"`
	PerProtocolCount     map[Protocol]uint64 `json:"per_protocol_count"`
	PerAttackTypeCount   map[string]uint64   `json:"per_attack_type_count"`
	Windows              []WindowStats       `json:"windows,omitempty"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

func (s AggregateStats) ThreatRate() float64 {
	if s.TotalAnalyzed == 0 {
		return 0
	}
	return float64(s.ThreatCount) / float64(s.TotalAnalyzed)
}

func (s AggregateStats) AverageConfidence() float64 {
	if s.TotalAnalyzed == 0 {
		return 0
	}
	return s.ConfidenceSum / float64(s.TotalAnalyzed)
}

func (s AggregateStats) Clone() AggregateStats {
	out := s
	out.SeverityDistribution = make(map[Severity]uint64, len(s.SeverityDistribution))
	for k, v := range s.SeverityDistribution {
		out.SeverityDistribution[k] = v
	}
	out.PerProtocolCount = make(map[Protocol]uint64, len(s.PerProtocolCount))
	for k, v := range s.PerProtocolCount {
		out.PerProtocolCount[k] = v
	}
	out.PerAttackTypeCount = make(map[string]uint64, len(s.PerAttackTypeCount))
	for k, v := range s.PerAttackTypeCount {
		out.PerAttackTypeCount[k] = v
	}
	out.Windows = append([]WindowStats(nil), s.Windows...)
	return out
}

type Banner string

const (
	BannerCritical Banner = "CRITICAL"
	BannerWarning  Banner = "WARNING"
	BannerAdvisory Banner = "ADVISORY"
	BannerNormal   Banner = "NORMAL"
)

type HistoryContext struct {
	TotalHistoricalEvents uint64        `json:"total_historical_events"`
	HistoricalThreatRate  float64       `json:"historical_threat_rate"`
	AverageConfidence     float64       `json:"average_confidence"`
	Windows               []WindowStats `json:"windows,omitempty"`
}

type Report struct {
	ID               string          `json:"id"`
	GeneratedAt      time.Time       `json:"generated_at"`
	WindowSec        int             `json:"window_sec"`
	Banner           Banner          `json:"banner"`
	ExecutiveSummary string          `json:"executive_summary"`
	Stats            AggregateStats  `json:"stats"`
	RecentAlerts     []Alert         `json:"recent_alerts"`
	Recommendations  []string        `json:"recommendations"`
	History          *HistoryContext `json:"history,omitempty"`
}

// State is the plain-data form of the engine's mutable state handed to persistence.
type State struct {
	SavedAt     time.Time      `json:"saved_at"`
	NextAlertID uint64         `json:"next_alert_id"`
	Alerts      []Alert        `json:"alerts"`
	Stats       AggregateStats `json:"stats"`
}
