package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 0.80, cfg.Severity.High)
	assert.Equal(t, 0.50, cfg.Severity.ThreatCutoff)
	assert.Equal(t, "LOW", cfg.Alerts.Floor)
	assert.Equal(t, ":8081", cfg.API.Addr)
}

func TestParseYAMLOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
severity:
  high: 0.9
  medium: 0.6
  low: 0.2
  threat_cutoff: 0.5
report:
  window: 30m
inference:
  rules:
    - name: smb
      label: Potential SMB Exploitation
      dest_ports: [445]
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.9, cfg.Severity.High)
	assert.Equal(t, 30*time.Minute, cfg.Report.Window)
	assert.Equal(t, 20, cfg.Report.RecentLimit, "unset fields keep defaults")
	require.Len(t, cfg.Inference.Rules, 1)
	assert.Equal(t, []uint16{445}, cfg.Inference.Rules[0].DestPorts)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"alerts": {"floor": "MEDIUM", "store_limit": 50}}`))
	require.NoError(t, err)
	assert.Equal(t, "MEDIUM", cfg.Alerts.Floor)
	assert.Equal(t, 50, cfg.Alerts.StoreLimit)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold order": func(c *Config) { c.Severity.Medium = 0.9 },
		"cutoff range":    func(c *Config) { c.Severity.ThreatCutoff = 1.5 },
		"alert floor":     func(c *Config) { c.Alerts.Floor = "URGENT" },
		"rule label":      func(c *Config) { c.Inference.Rules = []RuleConfig{{DestPorts: []uint16{445}}} },
		"rule condition":  func(c *Config) { c.Inference.Rules = []RuleConfig{{Label: "x"}} },
		"kafka ingest":    func(c *Config) { c.Ingest.Kafka.Enabled = true },
		"storage driver":  func(c *Config) { c.Storage.Enabled = true; c.Storage.Driver = "mongo" },
		"metrics window":  func(c *Config) { c.Metrics.Windows = []time.Duration{-time.Second} },
		"future skew":     func(c *Config) { c.Metrics.MaxFutureSkew = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	cfg := DefaultConfig()
	cfg.Severity.Low = 0.6
	assert.True(t, errors.Is(Validate(cfg), model.ErrInvalidThresholdOrdering))
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse([]byte("   \n"))
	assert.Error(t, err)
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threatlens.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	m, err := NewManager(path)
	require.NoError(t, err)

	bad := *m.Get()
	bad.Severity.High = 0.1
	require.Error(t, m.Update(&bad))
	assert.Equal(t, 0.80, m.Get().Severity.High)

	next := *m.Get()
	next.Severity.High = 0.95
	require.NoError(t, m.Update(&next))
	onDisk, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.95, onDisk.Severity.High)

	edited := *onDisk
	edited.Report.RecentLimit = 7
	require.NoError(t, Save(path, &edited))
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Report.RecentLimit)
	assert.Equal(t, 7, m.Get().Report.RecentLimit)
}

func TestStaticManagerKeepsChangesInMemory(t *testing.T) {
	m := NewStaticManager(DefaultConfig())
	next := *m.Get()
	next.Alerts.Floor = "HIGH"
	require.NoError(t, m.Update(&next))
	assert.Equal(t, "HIGH", m.Get().Alerts.Floor)
	assert.Error(t, m.Watch(context.Background(), nil, nil))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threatlens.yaml")
	require.NoError(t, Save(path, DefaultConfig()))
	m, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 4)
	require.NoError(t, m.Watch(ctx, func(c *Config) { reloaded <- c }, nil))

	require.NoError(t, os.WriteFile(path, []byte("report:\n  recent_limit: 3\n"), 0o644))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 3, cfg.Report.RecentLimit)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not picked up")
	}
}
