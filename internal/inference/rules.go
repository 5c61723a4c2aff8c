// Package inference derives an attack category from event attributes with an
// ordered rule table. The first matching rule wins.
package inference

import (
	"threatlens/internal/config"
	"threatlens/internal/model"
)

const (
	LabelSSHBruteForce = "Potential SSH Brute Force"
	LabelDBAttack      = "Potential SQL Injection / DB Attack"
	LabelRDPAttack     = "Potential RDP Attack"
	LabelWebAttack     = "Potential Web Attack (XSS/Injection)"
	LabelPortScan      = "Potential Port Scan"
	LabelDDoS          = "Potential DDoS/Flooding"
	Unclassified       = "Unclassified"
)

// Rule pairs a predicate with the label it produces.
type Rule struct {
	Name  string
	Label string
	Match func(ev model.NetworkEvent) bool
}

type portSet map[uint16]struct{}

func newPortSet(ports []uint16) portSet {
	set := make(portSet, len(ports))
	for _, p := range ports {
		set[p] = struct{}{}
	}
	return set
}

func (s portSet) has(port uint16) bool {
	_, ok := s[port]
	return ok
}

// BuiltinRules returns the fixed rule order. Specific service ports are checked
// before the generic SYN-on-uncommon-port rule, so an SSH connection attempt
// carrying SYN is reported as SSH brute force rather than a port scan.
func BuiltinRules(cfg config.InferenceConfig) []Rule {
	db := newPortSet(cfg.DBPorts)
	web := newPortSet(cfg.WebPorts)
	common := newPortSet(cfg.CommonPorts)
	largePayload := cfg.LargePayloadBytes
	flood := cfg.FloodPacketBytes
	return []Rule{
		{
			Name:  "ssh_brute_force",
			Label: LabelSSHBruteForce,
			Match: func(ev model.NetworkEvent) bool { return ev.DestPort == 22 },
		},
		{
			Name:  "db_attack",
			Label: LabelDBAttack,
			Match: func(ev model.NetworkEvent) bool { return db.has(ev.DestPort) },
		},
		{
			Name:  "rdp_attack",
			Label: LabelRDPAttack,
			Match: func(ev model.NetworkEvent) bool { return ev.DestPort == 3389 },
		},
		{
			Name:  "web_attack",
			Label: LabelWebAttack,
			Match: func(ev model.NetworkEvent) bool {
				return web.has(ev.DestPort) && ev.PayloadSize > largePayload
			},
		},
		{
			Name:  "port_scan",
			Label: LabelPortScan,
			Match: func(ev model.NetworkEvent) bool {
				return ev.TCPFlags.Has("SYN") && !common.has(ev.DestPort)
			},
		},
		{
			Name:  "ddos_flooding",
			Label: LabelDDoS,
			Match: func(ev model.NetworkEvent) bool { return ev.PacketSize > flood },
		},
	}
}

// ConfiguredRule turns a rule table entry into a predicate.
func ConfiguredRule(rc config.RuleConfig) Rule {
	ports := newPortSet(rc.DestPorts)
	protocols := make(map[model.Protocol]struct{}, len(rc.Protocols))
	for _, p := range rc.Protocols {
		protocols[model.ParseProtocol(p)] = struct{}{}
	}
	flags := model.NewTCPFlags(rc.Flags...)
	name := rc.Name
	if name == "" {
		name = rc.Label
	}
	return Rule{
		Name:  name,
		Label: rc.Label,
		Match: func(ev model.NetworkEvent) bool {
			if len(ports) > 0 && !ports.has(ev.DestPort) {
				return false
			}
			if len(protocols) > 0 {
				if _, ok := protocols[ev.Protocol]; !ok {
					return false
				}
			}
			for _, f := range flags {
				if !ev.TCPFlags.Has(f) {
					return false
				}
			}
			if rc.MinPayloadBytes > 0 && ev.PayloadSize < rc.MinPayloadBytes {
				return false
			}
			if rc.MinPacketBytes > 0 && ev.PacketSize < rc.MinPacketBytes {
				return false
			}
			return true
		},
	}
}

// Engine holds a rule table that never changes after construction.
type Engine struct {
	rules []Rule
}

func NewEngine(cfg config.InferenceConfig) *Engine {
	rules := BuiltinRules(cfg)
	for _, rc := range cfg.Rules {
		rules = append(rules, ConfiguredRule(rc))
	}
	return &Engine{rules: rules}
}

// NewEngineWithRules builds an engine from an explicit table.
func NewEngineWithRules(rules []Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), rules...)}
}

func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Match returns the first rule whose predicate holds.
func (e *Engine) Match(ev model.NetworkEvent) (Rule, bool) {
	for _, r := range e.rules {
		if r.Match(ev) {
			return r, true
		}
	}
	return Rule{}, false
}

func (e *Engine) Infer(ev model.NetworkEvent) string {
	if r, ok := e.Match(ev); ok {
		return r.Label
	}
	return Unclassified
}
