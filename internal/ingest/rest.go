package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"threatlens/internal/config"
)

type RESTServer struct {
	sink   *Sink
	logger *slog.Logger
}

func NewRESTServer(sink *Sink, logger *slog.Logger) *RESTServer {
	return &RESTServer{sink: sink, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg *config.Manager, sink *Sink, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTServer(sink, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

// handleEvents accepts one prediction object or an array of them.
func (s *RESTServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var items []json.RawMessage
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &items); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		items = []json.RawMessage{trim}
	}

	accepted, failed, dropped := 0, 0, 0
	for _, item := range items {
		fields, err := ParseJSONBytes(item)
		if err != nil {
			failed++
			continue
		}
		fields.Raw = "rest"
		if err := s.sink.HandleFields(r.Context(), "rest", fields); err != nil {
			if errors.Is(err, ErrDropped) {
				dropped++
			} else {
				failed++
			}
			continue
		}
		accepted++
	}

	status := http.StatusOK
	if accepted == 0 && len(items) == 1 {
		switch {
		case failed > 0:
			status = http.StatusBadRequest
		case dropped > 0:
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
		"dropped":  dropped,
	})
}
