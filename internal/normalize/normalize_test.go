package normalize

import (
	"errors"
	"testing"
	"time"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

func TestNormalizeFullRecord(t *testing.T) {
	fields := EventFields{
		Timestamp:   "2026-02-23T12:34:56Z",
		SourceIP:    "203.0.113.7",
		DestIP:      "10.0.0.5",
		SourcePort:  "51515",
		DestPort:    "22",
		Protocol:    "6",
		PacketSize:  "64",
		PayloadSize: "24",
		TCPFlags:    "syn, ack",
		Probability: "0.953",
	}
	pr, err := Normalize(fields, config.DefaultConfig())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	ev := pr.Event
	if ev.Protocol != model.ProtocolTCP || ev.DestPort != 22 || ev.SourcePort != 51515 {
		t.Fatalf("tuple mismatch: %+v", ev)
	}
	if ev.PacketSize != 64 || ev.PayloadSize != 24 {
		t.Fatalf("sizes mismatch: %+v", ev)
	}
	if !ev.TCPFlags.Has("SYN") || !ev.TCPFlags.Has("ACK") {
		t.Fatalf("flags: %v", ev.TCPFlags)
	}
	if pr.Probability != 0.953 {
		t.Fatalf("probability: %v", pr.Probability)
	}
	if !ev.Timestamp.Equal(time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC)) {
		t.Fatalf("timestamp: %v", ev.Timestamp)
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Normalize(EventFields{DestPort: "22"}, nil); !errors.Is(err, ErrMissingProbability) {
		t.Fatalf("expected missing probability, got %v", err)
	}
	if _, err := Normalize(EventFields{DestPort: "70000", Probability: "0.5"}, nil); err == nil {
		t.Fatalf("expected port overflow error")
	}
	if _, err := Normalize(EventFields{Timestamp: "yesterday", Probability: "0.5"}, nil); err == nil {
		t.Fatalf("expected timestamp error")
	}
}

func TestParseTimestampForms(t *testing.T) {
	cases := map[string]time.Time{
		"1700000000":          time.Unix(1700000000, 0).UTC(),
		"1700000000123":       time.Unix(0, 1700000000123*int64(time.Millisecond)).UTC(),
		"1700000000.5":        time.Unix(1700000000, int64(500*time.Millisecond)).UTC(),
		"2026-02-23 12:34:56": time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}

func TestAssignAliases(t *testing.T) {
	var f EventFields
	for name, value := range map[string]string{"DPORT": "443", "proto": "udp", "score": "0.2", "vendor": "x"} {
		f.Assign(name, value)
	}
	if f.DestPort != "443" || f.Protocol != "udp" || f.Probability != "0.2" {
		t.Fatalf("aliases not applied: %+v", f)
	}
	if f.Extras["vendor"] != "x" {
		t.Fatalf("unknown field should land in extras")
	}
	if !IsField("payload_len") || IsField("vendor") {
		t.Fatalf("IsField mismatch")
	}
}
