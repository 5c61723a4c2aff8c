package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"threatlens/internal/config"
)

// StartNATS subscribes to the prediction subject. With a queue group set,
// several instances share the stream.
func StartNATS(ctx context.Context, cfg *config.Manager, sink *Sink, logger *slog.Logger) error {
	current := cfg.Get().Ingest.NATS
	if !current.Enabled {
		if logger != nil {
			logger.Info("nats ingest disabled")
		}
		return nil
	}
	nc, err := nats.Connect(current.URL, nats.Name("threatlens-ingest"))
	if err != nil {
		return err
	}
	var mu sync.Mutex
	parser := NewParser()
	handler := func(msg *nats.Msg) {
		mu.Lock()
		fields, err := parser.ParseLine(string(msg.Data))
		mu.Unlock()
		if err != nil || fields == nil {
			return
		}
		_ = sink.HandleFields(ctx, "nats", fields)
	}
	var sub *nats.Subscription
	if current.Queue != "" {
		sub, err = nc.QueueSubscribe(current.Subject, current.Queue, handler)
	} else {
		sub, err = nc.Subscribe(current.Subject, handler)
	}
	if err != nil {
		nc.Close()
		return err
	}
	if logger != nil {
		logger.Info("nats ingest enabled", "url", current.URL, "subject", current.Subject, "queue", current.Queue)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		nc.Close()
	}()
	return nil
}
