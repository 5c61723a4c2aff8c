package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"threatlens/internal/model"
	"threatlens/internal/severity"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Severity  SeverityConfig  `json:"severity" yaml:"severity"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type SeverityConfig struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
	Low    float64 `json:"low" yaml:"low"`
	// ThreatCutoff is the probability at which an event counts as a threat.
	ThreatCutoff float64 `json:"threat_cutoff" yaml:"threat_cutoff"`
}

func (s SeverityConfig) Thresholds() severity.Thresholds {
	return severity.Thresholds{High: s.High, Medium: s.Medium, Low: s.Low}
}

type InferenceConfig struct {
	LargePayloadBytes uint32       `json:"large_payload_bytes" yaml:"large_payload_bytes"`
	FloodPacketBytes  uint32       `json:"flood_packet_bytes" yaml:"flood_packet_bytes"`
	CommonPorts       []uint16     `json:"common_ports" yaml:"common_ports"`
	DBPorts           []uint16     `json:"db_ports" yaml:"db_ports"`
	WebPorts          []uint16     `json:"web_ports" yaml:"web_ports"`
	Rules             []RuleConfig `json:"rules" yaml:"rules"`
}

// RuleConfig describes an extra inference rule. All non-empty conditions must hold.
// Configured rules run after the built-in ones, in file order.
type RuleConfig struct {
	Name            string   `json:"name" yaml:"name"`
	Label           string   `json:"label" yaml:"label"`
	DestPorts       []uint16 `json:"dest_ports" yaml:"dest_ports"`
	Protocols       []string `json:"protocols" yaml:"protocols"`
	Flags           []string `json:"flags" yaml:"flags"`
	MinPayloadBytes uint32   `json:"min_payload_bytes" yaml:"min_payload_bytes"`
	MinPacketBytes  uint32   `json:"min_packet_bytes" yaml:"min_packet_bytes"`
	Contain         []string `json:"contain" yaml:"contain"`
	Investigate     []string `json:"investigate" yaml:"investigate"`
	Harden          []string `json:"harden" yaml:"harden"`
}

func (r RuleConfig) hasCondition() bool {
	return len(r.DestPorts) > 0 || len(r.Protocols) > 0 || len(r.Flags) > 0 || r.MinPayloadBytes > 0 || r.MinPacketBytes > 0
}

type AlertsConfig struct {
	// Floor is the lowest severity that produces an alert.
	Floor      string `json:"floor" yaml:"floor"`
	StoreLimit int    `json:"store_limit" yaml:"store_limit"`
}

type ReportConfig struct {
	Window               time.Duration `json:"window" yaml:"window"`
	RecentLimit          int           `json:"recent_limit" yaml:"recent_limit"`
	ElevatedThreatRate   float64       `json:"elevated_threat_rate" yaml:"elevated_threat_rate"`
	MediumAlertThreshold int           `json:"medium_alert_threshold" yaml:"medium_alert_threshold"`
}

type MetricsConfig struct {
	Windows    []time.Duration `json:"windows" yaml:"windows"`
	Prometheus bool            `json:"prometheus" yaml:"prometheus"`
	// MaxClockSkew and MaxFutureSkew bound how far an event timestamp may lie
	// behind or ahead of the engine clock before it is replaced by the clock
	// reading. Zero disables the bound.
	MaxClockSkew  time.Duration `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration `json:"max_future_skew" yaml:"max_future_skew"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int             `json:"workers" yaml:"workers"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	NATS          NATSConfig      `json:"nats" yaml:"nats"`
	Redis         RedisConfig     `json:"redis" yaml:"redis"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
	Queue   string `json:"queue" yaml:"queue"`
}

type RedisConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	Key          string        `json:"key" yaml:"key"`
	BlockTimeout time.Duration `json:"block_timeout" yaml:"block_timeout"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
}

type NotifyConfig struct {
	MinSeverity string            `json:"min_severity" yaml:"min_severity"`
	Cooldown    time.Duration     `json:"cooldown" yaml:"cooldown"`
	NATS        NotifyNATSConfig  `json:"nats" yaml:"nats"`
	Kafka       NotifyKafkaConfig `json:"kafka" yaml:"kafka"`
}

type NotifyNATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type NotifyKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled     bool               `json:"enabled" yaml:"enabled"`
	Driver      string             `json:"driver" yaml:"driver"`
	DSN         string             `json:"dsn" yaml:"dsn"`
	Redis       StorageRedisConfig `json:"redis" yaml:"redis"`
	Interval    time.Duration      `json:"interval" yaml:"interval"`
	LoadOnStart bool               `json:"load_on_start" yaml:"load_on_start"`
}

type StorageRedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

func DefaultCommonPorts() []uint16 {
	return []uint16{20, 21, 22, 23, 25, 53, 80, 110, 143, 443, 3389}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Severity: SeverityConfig{High: 0.80, Medium: 0.50, Low: 0.30, ThreatCutoff: 0.50},
		Inference: InferenceConfig{
			LargePayloadBytes: 1500,
			FloodPacketBytes:  4096,
			CommonPorts:       DefaultCommonPorts(),
			DBPorts:           []uint16{3306, 5432},
			WebPorts:          []uint16{80, 443},
		},
		Alerts: AlertsConfig{Floor: "LOW", StoreLimit: 1000},
		Report: ReportConfig{
			Window:               1 * time.Hour,
			RecentLimit:          20,
			ElevatedThreatRate:   0.20,
			MediumAlertThreshold: 5,
		},
		Metrics: MetricsConfig{
			Windows:       []time.Duration{1 * time.Minute, 5 * time.Minute, 1 * time.Hour},
			Prometheus:    true,
			MaxFutureSkew: 5 * time.Second,
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       4,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			NATS:          NATSConfig{Enabled: false, URL: "nats://127.0.0.1:4222", Subject: "threatlens.predictions"},
			Redis:         RedisConfig{Enabled: false, Addr: "127.0.0.1:6379", Key: "threatlens:predictions", BlockTimeout: 5 * time.Second},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Notify: NotifyConfig{
			MinSeverity: "HIGH",
			Cooldown:    30 * time.Second,
			NATS:        NotifyNATSConfig{Enabled: false, URL: "nats://127.0.0.1:4222", Subject: "threatlens.alerts"},
			Kafka:       NotifyKafkaConfig{Enabled: false, Topic: "threatlens-alerts"},
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{
			Enabled:     false,
			Driver:      "sqlite",
			DSN:         "file:threatlens.db?_pragma=busy_timeout(5000)",
			Redis:       StorageRedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "threatlens"},
			Interval:    30 * time.Second,
			LoadOnStart: true,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes a JSON or YAML document over the defaults.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Inference.LargePayloadBytes == 0 {
		cfg.Inference.LargePayloadBytes = def.Inference.LargePayloadBytes
	}
	if cfg.Inference.FloodPacketBytes == 0 {
		cfg.Inference.FloodPacketBytes = def.Inference.FloodPacketBytes
	}
	if len(cfg.Inference.CommonPorts) == 0 {
		cfg.Inference.CommonPorts = def.Inference.CommonPorts
	}
	if len(cfg.Inference.DBPorts) == 0 {
		cfg.Inference.DBPorts = def.Inference.DBPorts
	}
	if len(cfg.Inference.WebPorts) == 0 {
		cfg.Inference.WebPorts = def.Inference.WebPorts
	}
	if cfg.Alerts.Floor == "" {
		cfg.Alerts.Floor = def.Alerts.Floor
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Report.Window <= 0 {
		cfg.Report.Window = def.Report.Window
	}
	if cfg.Report.RecentLimit <= 0 {
		cfg.Report.RecentLimit = def.Report.RecentLimit
	}
	if cfg.Report.ElevatedThreatRate <= 0 {
		cfg.Report.ElevatedThreatRate = def.Report.ElevatedThreatRate
	}
	if cfg.Report.MediumAlertThreshold <= 0 {
		cfg.Report.MediumAlertThreshold = def.Report.MediumAlertThreshold
	}
	if len(cfg.Metrics.Windows) == 0 {
		cfg.Metrics.Windows = def.Metrics.Windows
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Redis.BlockTimeout <= 0 {
		cfg.Ingest.Redis.BlockTimeout = def.Ingest.Redis.BlockTimeout
	}
	if cfg.Notify.MinSeverity == "" {
		cfg.Notify.MinSeverity = def.Notify.MinSeverity
	}
	if cfg.Storage.Interval <= 0 {
		cfg.Storage.Interval = def.Storage.Interval
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = def.Storage.Redis.KeyPrefix
	}
}

func Validate(cfg *Config) error {
	if err := cfg.Severity.Thresholds().Validate(); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	if err := model.ValidateProbability(cfg.Severity.ThreatCutoff); err != nil {
		return fmt.Errorf("severity.threat_cutoff: %w", err)
	}
	if _, err := model.ParseSeverity(cfg.Alerts.Floor); err != nil {
		return fmt.Errorf("alerts.floor: %w", err)
	}
	if _, err := model.ParseSeverity(cfg.Notify.MinSeverity); err != nil {
		return fmt.Errorf("notify.min_severity: %w", err)
	}
	for i, r := range cfg.Inference.Rules {
		if strings.TrimSpace(r.Label) == "" {
			return fmt.Errorf("inference.rules[%d]: label required", i)
		}
		if !r.hasCondition() {
			return fmt.Errorf("inference.rules[%d] (%s): at least one condition required", i, r.Label)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.NATS.Enabled && (cfg.Ingest.NATS.URL == "" || cfg.Ingest.NATS.Subject == "") {
		return errors.New("ingest.nats requires url and subject")
	}
	if cfg.Ingest.Redis.Enabled && (cfg.Ingest.Redis.Addr == "" || cfg.Ingest.Redis.Key == "") {
		return errors.New("ingest.redis requires addr and key")
	}
	if cfg.Notify.NATS.Enabled && (cfg.Notify.NATS.URL == "" || cfg.Notify.NATS.Subject == "") {
		return errors.New("notify.nats requires url and subject")
	}
	if cfg.Notify.Kafka.Enabled && (len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "") {
		return errors.New("notify.kafka requires brokers and topic")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql", "redis":
		default:
			return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
		}
	}
	if cfg.Metrics.MaxClockSkew < 0 || cfg.Metrics.MaxFutureSkew < 0 {
		return errors.New("metrics clock skew bounds must not be negative")
	}
	for _, win := range cfg.Metrics.Windows {
		if win <= 0 {
			return fmt.Errorf("metrics.windows contains non-positive duration: %s", win)
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an already-built config. Update keeps the change in memory
// when the manager has no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	return nil
}

// Watch reloads the config whenever the file changes on disk. The parent
// directory is watched so editors that replace the file are still seen.
func (m *Manager) Watch(ctx context.Context, onReload func(*Config), onError func(error)) error {
	if m.path == "" {
		return errors.New("config manager has no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(m.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		var debounce <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(250 * time.Millisecond)
			case <-debounce:
				debounce = nil
				cfg, err := m.Reload()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
