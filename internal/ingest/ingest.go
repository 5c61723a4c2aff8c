package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"threatlens/internal/config"
	"threatlens/internal/model"
	"threatlens/internal/normalize"
)

// ErrDropped is returned when a normalized record was discarded as a duplicate
// or because the prediction channel was full.
var ErrDropped = errors.New("prediction dropped")

func SendNonBlocking(ctx context.Context, out chan<- model.Prediction, pr model.Prediction, logger *slog.Logger) bool {
	select {
	case out <- pr:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("prediction channel full, dropping event",
				"source_ip", pr.Event.SourceIP,
				"dest_port", pr.Event.DestPort,
				"timestamp", pr.Event.Timestamp,
			)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Sink is shared by every transport. It drops records already seen inside the
// configured dedupe window and never blocks the caller.
type Sink struct {
	cfg    *config.Manager
	out    chan<- model.Prediction
	dedupe *DedupeCache
	logger *slog.Logger
	now    func() time.Time
}

func NewSink(cfg *config.Manager, out chan<- model.Prediction, logger *slog.Logger) *Sink {
	return &Sink{cfg: cfg, out: out, dedupe: NewDedupeCache(), logger: logger, now: time.Now}
}

func (s *Sink) Send(ctx context.Context, source string, pr model.Prediction) bool {
	if window := s.cfg.Get().Ingest.DedupeWindow; window > 0 {
		if s.dedupe.Seen(hashPrediction(pr), s.now().UTC(), window) {
			if s.logger != nil {
				s.logger.Debug("duplicate prediction dropped", "source", source, "source_ip", pr.Event.SourceIP)
			}
			return false
		}
	}
	return SendNonBlocking(ctx, s.out, pr, s.logger)
}

// HandleLine parses and normalizes one text record and forwards it.
func (s *Sink) HandleLine(ctx context.Context, source string, parser *Parser, line string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	_ = s.HandleFields(ctx, source, fields)
}

func (s *Sink) HandleFields(ctx context.Context, source string, fields *normalize.EventFields) error {
	pr, err := normalize.Normalize(*fields, s.cfg.Get())
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(source+" normalize error", "err", err)
		}
		return err
	}
	if !s.Send(ctx, source, pr) {
		return ErrDropped
	}
	return nil
}

func hashPrediction(pr model.Prediction) string {
	ev := pr.Event
	parts := []string{
		ev.SourceIP,
		ev.DestIP,
		strconv.Itoa(int(ev.SourcePort)),
		strconv.Itoa(int(ev.DestPort)),
		string(ev.Protocol),
		strconv.FormatUint(uint64(ev.PacketSize), 10),
		strconv.FormatUint(uint64(ev.PayloadSize), 10),
		ev.TCPFlags.String(),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(pr.Probability, 'g', -1, 64),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}
