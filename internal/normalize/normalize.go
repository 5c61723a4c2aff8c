package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

var ErrMissingProbability = errors.New("missing probability")

// EventFields holds the raw string values of one predictor record.
type EventFields struct {
	Timestamp   string
	SourceIP    string
	DestIP      string
	SourcePort  string
	DestPort    string
	Protocol    string
	PacketSize  string
	PayloadSize string
	TCPFlags    string
	Probability string
	Extras      map[string]string
	Raw         string
}

// Assign stores value under the field that name is an alias of. Unknown names
// go to Extras and Assign returns false.
func (f *EventFields) Assign(name, value string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		f.Timestamp = value
	case "source_ip", "src_ip", "src", "sourceip":
		f.SourceIP = value
	case "destination_ip", "dest_ip", "dst_ip", "dst", "destip":
		f.DestIP = value
	case "source_port", "src_port", "sport", "sourceport":
		f.SourcePort = value
	case "destination_port", "dest_port", "dst_port", "dport", "destport":
		f.DestPort = value
	case "protocol", "proto":
		f.Protocol = value
	case "packet_size", "pkt_size", "length", "packetsize":
		f.PacketSize = value
	case "payload_size", "payload_len", "payloadsize":
		f.PayloadSize = value
	case "tcp_flags", "flags", "tcpflags":
		f.TCPFlags = value
	case "probability", "threat_probability", "confidence", "score":
		f.Probability = value
	default:
		if f.Extras == nil {
			f.Extras = map[string]string{}
		}
		f.Extras[name] = value
		return false
	}
	return true
}

// IsField reports whether name is a known field alias.
func IsField(name string) bool {
	var f EventFields
	return f.Assign(name, "")
}

func Normalize(fields EventFields, cfg *config.Config) (model.Prediction, error) {
	if strings.TrimSpace(fields.Probability) == "" {
		return model.Prediction{}, ErrMissingProbability
	}
	prob, err := strconv.ParseFloat(strings.TrimSpace(fields.Probability), 64)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("parse probability: %w", err)
	}

	loc := time.UTC
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Prediction{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	var ev model.NetworkEvent
	ev.SourceIP = strings.TrimSpace(fields.SourceIP)
	ev.DestIP = strings.TrimSpace(fields.DestIP)
	if ev.SourcePort, err = parsePort(fields.SourcePort); err != nil {
		return model.Prediction{}, fmt.Errorf("parse source_port: %w", err)
	}
	if ev.DestPort, err = parsePort(fields.DestPort); err != nil {
		return model.Prediction{}, fmt.Errorf("parse dest_port: %w", err)
	}
	if ev.PacketSize, err = parseSize(fields.PacketSize); err != nil {
		return model.Prediction{}, fmt.Errorf("parse packet_size: %w", err)
	}
	if ev.PayloadSize, err = parseSize(fields.PayloadSize); err != nil {
		return model.Prediction{}, fmt.Errorf("parse payload_size: %w", err)
	}
	ev.Protocol = model.ParseProtocol(fields.Protocol)
	ev.TCPFlags = model.ParseTCPFlags(fields.TCPFlags)
	ev.Timestamp = ts
	return model.Prediction{Event: ev, Probability: prob}, nil
}

func parsePort(value string) (uint16, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseSize(value string) (uint32, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	if sec, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(sec, 0) && !math.IsNaN(sec) {
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
