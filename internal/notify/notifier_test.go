package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

type fakePublisher struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
	closed   bool
	got      chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{got: make(chan struct{}, 16)}
}

func (f *fakePublisher) Name() string { return "fake" }

func (f *fakePublisher) Publish(_ context.Context, key string, payload []byte) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testAlert(id uint64, sev model.Severity, src string) model.Alert {
	return model.Alert{
		ID:        id,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:  sev,
		Classification: model.Classification{
			Event:             model.NetworkEvent{SourceIP: src, DestIP: "10.0.0.5", DestPort: 22, Protocol: model.ProtocolTCP},
			ThreatProbability: 0.95,
			IsThreat:          true,
			Severity:          sev,
			AttackType:        "Potential SSH Brute Force",
			Recommendations:   []string{"IMMEDIATELY block all traffic from " + src},
		},
	}
}

func TestCooldownPerKey(t *testing.T) {
	c := NewCooldown()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.True(t, c.Allow("1.2.3.4", "ssh", time.Minute))
	assert.False(t, c.Allow("1.2.3.4", "ssh", time.Minute))
	assert.True(t, c.Allow("1.2.3.4", "rdp", time.Minute))
	assert.True(t, c.Allow("5.6.7.8", "ssh", time.Minute))

	now = now.Add(time.Minute)
	assert.True(t, c.Allow("1.2.3.4", "ssh", time.Minute))
	assert.True(t, c.Allow("1.2.3.4", "ssh", 0))
}

func TestDispatcherFiltersAndPublishes(t *testing.T) {
	pub := newFakePublisher()
	cfg := config.DefaultConfig().Notify
	d, err := NewDispatcher(cfg, nil, pub)
	require.NoError(t, err)

	d.Notify(testAlert(1, model.SeverityMedium, "1.2.3.4"))
	d.Notify(testAlert(2, model.SeverityHigh, "1.2.3.4"))
	d.Notify(testAlert(3, model.SeverityHigh, "1.2.3.4"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-pub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not published")
	}
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.payloads, 1, "MEDIUM filtered, repeat throttled")
	assert.Equal(t, []string{"1.2.3.4"}, pub.keys)
	assert.True(t, pub.closed)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, uint64(2), msg.AlertID)
	assert.Equal(t, "HIGH", msg.Severity)
	assert.Equal(t, "Potential SSH Brute Force", msg.AttackType)
}

func TestDispatcherRejectsBadSeverity(t *testing.T) {
	cfg := config.DefaultConfig().Notify
	cfg.MinSeverity = "URGENT"
	_, err := NewDispatcher(cfg, nil)
	assert.Error(t, err)
}

func TestDispatcherDrainsQueueOnShutdown(t *testing.T) {
	pub := newFakePublisher()
	d, err := NewDispatcher(config.DefaultConfig().Notify, nil, pub)
	require.NoError(t, err)

	d.Notify(testAlert(1, model.SeverityHigh, "1.2.3.4"))
	d.Notify(testAlert(2, model.SeverityHigh, "5.6.7.8"))
	d.Notify(testAlert(3, model.SeverityHigh, "9.9.9.9"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.payloads, 3)
	assert.True(t, pub.closed)
	assert.Empty(t, d.queue)
}

func TestDispatcherUpdateConfig(t *testing.T) {
	pub := newFakePublisher()
	d, err := NewDispatcher(config.DefaultConfig().Notify, nil, pub)
	require.NoError(t, err)

	d.Notify(testAlert(1, model.SeverityMedium, "1.2.3.4"))
	assert.Empty(t, d.queue)

	require.NoError(t, d.UpdateConfig(config.NotifyConfig{MinSeverity: "MEDIUM"}))
	d.Notify(testAlert(2, model.SeverityMedium, "1.2.3.4"))
	d.Notify(testAlert(3, model.SeverityMedium, "1.2.3.4"))
	assert.Len(t, d.queue, 2, "zero cooldown disables throttling")

	assert.Error(t, d.UpdateConfig(config.NotifyConfig{MinSeverity: "URGENT"}))
	d.Notify(testAlert(4, model.SeverityMedium, "5.6.7.8"))
	assert.Len(t, d.queue, 3, "rejected update keeps previous settings")
}
