package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"threatlens/internal/config"
	"threatlens/internal/model"
)

func defaultEngine() *Engine {
	return NewEngine(config.DefaultConfig().Inference)
}

func TestRuleOrderIsFixed(t *testing.T) {
	var names []string
	for _, r := range defaultEngine().Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"ssh_brute_force",
		"db_attack",
		"rdp_attack",
		"web_attack",
		"port_scan",
		"ddos_flooding",
	}, names)
}

func TestInferTable(t *testing.T) {
	eng := defaultEngine()
	cases := []struct {
		name string
		ev   model.NetworkEvent
		want string
	}{
		{"ssh", model.NetworkEvent{DestPort: 22, PacketSize: 64}, LabelSSHBruteForce},
		{"mysql", model.NetworkEvent{DestPort: 3306, PacketSize: 64}, LabelDBAttack},
		{"postgres", model.NetworkEvent{DestPort: 5432, PacketSize: 64}, LabelDBAttack},
		{"rdp", model.NetworkEvent{DestPort: 3389, PacketSize: 64}, LabelRDPAttack},
		{"web large payload", model.NetworkEvent{DestPort: 443, PacketSize: 2000, PayloadSize: 1501}, LabelWebAttack},
		{"web payload at threshold", model.NetworkEvent{DestPort: 80, PacketSize: 1600, PayloadSize: 1500}, Unclassified},
		{"syn on uncommon port", model.NetworkEvent{DestPort: 8081, PacketSize: 60, TCPFlags: model.TCPFlags{"SYN"}}, LabelPortScan},
		{"syn on common port", model.NetworkEvent{DestPort: 25, PacketSize: 60, TCPFlags: model.TCPFlags{"SYN"}}, Unclassified},
		{"flood", model.NetworkEvent{DestPort: 9999, PacketSize: 4097}, LabelDDoS},
		{"flood at threshold", model.NetworkEvent{DestPort: 9999, PacketSize: 4096}, Unclassified},
		{"nothing", model.NetworkEvent{DestPort: 53, PacketSize: 80}, Unclassified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eng.Infer(tc.ev))
		})
	}
}

func TestSSHWinsRegardlessOfOtherFields(t *testing.T) {
	eng := defaultEngine()
	events := []model.NetworkEvent{
		{DestPort: 22, Protocol: model.ProtocolTCP, PacketSize: 64, PayloadSize: 24, TCPFlags: model.TCPFlags{"SYN"}},
		{DestPort: 22, Protocol: model.ProtocolUDP, PacketSize: 9000, PayloadSize: 8000},
		{DestPort: 22, Protocol: model.ProtocolICMP},
	}
	for _, ev := range events {
		assert.Equal(t, LabelSSHBruteForce, eng.Infer(ev))
	}
}

func TestSpecificPortsBeatPortScan(t *testing.T) {
	cfg := config.DefaultConfig().Inference
	cfg.CommonPorts = []uint16{80}
	eng := NewEngine(cfg)
	syn := model.TCPFlags{"SYN"}
	assert.Equal(t, LabelDBAttack, eng.Infer(model.NetworkEvent{DestPort: 3306, TCPFlags: syn}))
	assert.Equal(t, LabelRDPAttack, eng.Infer(model.NetworkEvent{DestPort: 3389, TCPFlags: syn}))
	assert.Equal(t, LabelSSHBruteForce, eng.Infer(model.NetworkEvent{DestPort: 22, TCPFlags: syn}))
}

func TestConfiguredRulesRunAfterBuiltins(t *testing.T) {
	cfg := config.DefaultConfig().Inference
	cfg.Rules = []config.RuleConfig{
		{Name: "dns_tunnel", Label: "Potential DNS Tunneling", DestPorts: []uint16{53}, Protocols: []string{"udp"}, MinPayloadBytes: 512},
		{Name: "ssh_override", Label: "never", DestPorts: []uint16{22}},
	}
	eng := NewEngine(cfg)
	assert.Equal(t, "Potential DNS Tunneling", eng.Infer(model.NetworkEvent{DestPort: 53, Protocol: model.ProtocolUDP, PacketSize: 700, PayloadSize: 600}))
	assert.Equal(t, Unclassified, eng.Infer(model.NetworkEvent{DestPort: 53, Protocol: model.ProtocolTCP, PacketSize: 700, PayloadSize: 600}))
	assert.Equal(t, LabelSSHBruteForce, eng.Infer(model.NetworkEvent{DestPort: 22}))
}
