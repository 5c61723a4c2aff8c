package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatlens/internal/config"
	"threatlens/internal/engine"
	"threatlens/internal/model"
	"threatlens/internal/normalize"
	"threatlens/internal/severity"
)

// Engine is the part of the engine the HTTP layer drives.
type Engine interface {
	ClassifyAndRecord(ev model.NetworkEvent, probability float64) (model.Classification, error)
	GetAlerts(filter model.AlertFilter, limit int) []model.Alert
	GetAlert(id uint64) (model.Alert, error)
	AcknowledgeAlert(id uint64, by string) (model.Alert, error)
	ClearAlerts(olderThan *time.Time) int
	GetStatistics() model.AggregateStats
	GetReport(includeHistory bool) model.Report
	UpdateThresholds(t severity.Thresholds) error
	Thresholds() severity.Thresholds
	ExportState() model.State
	Status() engine.Status
}

type Server struct {
	cfg      *config.Manager
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Engine     engine.Status `json:"engine"`
	Ingest     ingestStatus  `json:"ingest"`
	Notify     notifyStatus  `json:"notify"`
	Storage    storageStatus `json:"storage"`
	Windows    []string      `json:"windows"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
	NATS      bool `json:"nats"`
	Redis     bool `json:"redis"`
}

type notifyStatus struct {
	NATS        bool   `json:"nats"`
	Kafka       bool   `json:"kafka"`
	MinSeverity string `json:"min_severity"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

func NewServer(cfg *config.Manager, eng Engine, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: eng, gatherer: gatherer, logger: logger, version: version}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/clear", s.handleClear).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id:[0-9]+}", s.handleAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id:[0-9]+}/ack", s.handleAck).Methods(http.MethodPost)
	v1.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	v1.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/config/thresholds", s.handleGetThresholds).Methods(http.MethodGet)
	v1.HandleFunc("/config/thresholds", s.handleSetThresholds).Methods(http.MethodPost)
	v1.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	return r
}

func Start(ctx context.Context, cfg *config.Manager, eng Engine, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewServer(cfg, eng, gatherer, logger, version).Router(),
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
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	windows := make([]string, 0, len(cfg.Metrics.Windows))
	for _, d := range cfg.Metrics.Windows {
		windows = append(windows, d.String())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Engine:     s.engine.Status(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			NATS:      cfg.Ingest.NATS.Enabled,
			Redis:     cfg.Ingest.Redis.Enabled,
		},
		Notify: notifyStatus{
			NATS:        cfg.Notify.NATS.Enabled,
			Kafka:       cfg.Notify.Kafka.Enabled,
			MinSeverity: cfg.Notify.MinSeverity,
		},
		Storage: storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Windows: windows,
	})
}

type classifyRequest struct {
	Event       model.NetworkEvent `json:"event"`
	Probability *float64           `json:"probability"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Probability == nil {
		writeError(w, http.StatusBadRequest, normalize.ErrMissingProbability)
		return
	}
	ev := req.Event
	ev.Protocol = model.ParseProtocol(string(ev.Protocol))
	ev.TCPFlags = model.NewTCPFlags(ev.TCPFlags...)
	cls, err := s.engine.ClassifyAndRecord(ev, *req.Probability)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cls)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.AlertFilter
	if v := q.Get("severity"); v != "" {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Severity = &sev
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Acknowledged = &ack
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = ts
	}
	list := s.engine.GetAlerts(filter, 0)
	out := make([]model.Alert, 0, len(list))
	for _, a := range list {
		if !since.IsZero() && a.CreatedAt.Before(since) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"count":  len(out),
	})
}

func alertID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id, err := alertID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := s.engine.GetAlert(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id, err := alertID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		By string `json:"by"`
	}
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = "api"
	}
	a, err := s.engine.AcknowledgeAlert(id, by)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThan *time.Time `json:"older_than"`
	}
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	removed := s.engine.ClearAlerts(req.OlderThan)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.GetStatistics()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":              stats,
		"threat_rate":        stats.ThreatRate(),
		"average_confidence": stats.AverageConfidence(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	history := false
	if v := r.URL.Query().Get("history"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		history = b
	}
	writeJSON(w, http.StatusOK, s.engine.GetReport(history))
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Thresholds())
}

// handleSetThresholds writes new thresholds to the config file and then
// applies them to the engine. A failed write leaves the engine unchanged.
func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var t severity.Thresholds
	if err := decodeBody(w, r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := t.Validate(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	next := *s.cfg.Get()
	next.Severity.High, next.Severity.Medium, next.Severity.Low = t.High, t.Medium, t.Low
	if err := s.cfg.Update(&next); err != nil {
		if s.logger != nil {
			s.logger.Error("persist thresholds failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.engine.UpdateThresholds(t); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ExportState())
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidProbability),
		errors.Is(err, normalize.ErrMissingProbability),
		errors.Is(err, model.ErrInvalidEventGeometry),
		errors.Is(err, model.ErrInvalidThresholdOrdering):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrAlertNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAlertAlreadyAcknowledged):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("api request failed", "err", err)
	}
	writeError(w, status, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, dst)
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
