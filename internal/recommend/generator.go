// Package recommend turns a verdict into an ordered remediation checklist.
package recommend

import (
	"strconv"
	"strings"

	"threatlens/internal/config"
	"threatlens/internal/inference"
	"threatlens/internal/model"
)

// Playbook lines may use {src}, {dst}, {port} and {proto} placeholders.
type Playbook struct {
	Contain     []string
	Investigate []string
	Harden      []string
}

var openers = map[model.Severity][]string{
	model.SeverityHigh: {
		"IMMEDIATELY block all traffic from {src}",
		"Isolate the affected host {dst}",
		"Alert the security team for incident response",
	},
	model.SeverityMedium: {
		"Monitor traffic from {src} closely and apply rate limiting",
		"Consider a temporary block of {src} if the activity continues",
		"Review firewall rules for {proto} port {port}",
	},
	model.SeverityLow: {
		"Log activity from {src} for pattern analysis",
		"Watch for repeated events from {src}",
	},
	model.SeverityInfo: {
		"Record event for trend analysis",
		"No immediate action required",
	},
}

var genericPlaybook = Playbook{
	Contain:     []string{"Capture traffic from {src} for forensic analysis"},
	Investigate: []string{"Check {dst} for signs of compromise"},
	Harden:      []string{"Review security policies for {proto} port {port}"},
}

func DefaultPlaybooks() map[string]Playbook {
	return map[string]Playbook{
		inference.LabelSSHBruteForce: {
			Contain:     []string{"Block {src} at the SSH gateway and enable login lockout"},
			Investigate: []string{"Review SSH authentication logs on {dst} for failed and successful logins"},
			Harden:      []string{"Disable SSH password authentication in favor of keys", "Restrict SSH on port {port} to trusted networks"},
		},
		inference.LabelDBAttack: {
			Contain:     []string{"Block {src} from reaching database port {port}"},
			Investigate: []string{"Audit database query logs on {dst} for injection patterns"},
			Harden:      []string{"Use parameterized queries and least-privilege database accounts", "Keep database ports off public interfaces"},
		},
		inference.LabelRDPAttack: {
			Contain:     []string{"Block {src} from RDP on {dst}"},
			Investigate: []string{"Review Windows logon events on {dst}"},
			Harden:      []string{"Require Network Level Authentication and MFA for RDP", "Expose RDP only through a VPN or gateway"},
		},
		inference.LabelWebAttack: {
			Contain:     []string{"Block {src} at the WAF or load balancer"},
			Investigate: []string{"Inspect web server access logs on {dst} for injection payloads"},
			Harden:      []string{"Enable WAF rules for XSS and injection", "Validate and encode all user input"},
		},
		inference.LabelPortScan: {
			Contain:     []string{"Drop unsolicited SYN traffic from {src}"},
			Investigate: []string{"Check {src} against threat intelligence feeds", "Identify which ports on {dst} answered the scan"},
			Harden:      []string{"Close unused ports on {dst}"},
		},
		inference.LabelDDoS: {
			Contain:     []string{"Rate-limit or blackhole traffic from {src}", "Engage upstream DDoS mitigation if volume grows"},
			Investigate: []string{"Measure traffic volume toward {dst}"},
			Harden:      []string{"Enable SYN cookies and per-source connection limits"},
		},
	}
}

// Generator is immutable after construction.
type Generator struct {
	playbooks map[string]Playbook
}

func NewGenerator(cfg config.InferenceConfig) *Generator {
	books := DefaultPlaybooks()
	for _, rc := range cfg.Rules {
		if len(rc.Contain) == 0 && len(rc.Investigate) == 0 && len(rc.Harden) == 0 {
			continue
		}
		books[rc.Label] = Playbook{
			Contain:     append([]string(nil), rc.Contain...),
			Investigate: append([]string(nil), rc.Investigate...),
			Harden:      append([]string(nil), rc.Harden...),
		}
	}
	return &Generator{playbooks: books}
}

// Generate opens with the severity-graded lines and, for HIGH and MEDIUM,
// appends the attack playbook in contain, investigate, harden order.
// LOW and INFO only get passive logging guidance. The result is never empty.
func (g *Generator) Generate(sev model.Severity, attackType string, ev model.NetworkEvent) []string {
	r := placeholders(ev)
	lines, ok := openers[sev]
	if !ok {
		lines = openers[model.SeverityInfo]
	}
	out := make([]string, 0, len(lines)+6)
	for _, l := range lines {
		out = append(out, r.Replace(l))
	}
	if sev != model.SeverityHigh && sev != model.SeverityMedium {
		return out
	}
	book, ok := g.playbooks[attackType]
	if !ok {
		book = genericPlaybook
	}
	for _, group := range [][]string{book.Contain, book.Investigate, book.Harden} {
		for _, l := range group {
			out = append(out, r.Replace(l))
		}
	}
	return out
}

func placeholders(ev model.NetworkEvent) *strings.Replacer {
	src := orUnknown(ev.SourceIP)
	dst := orUnknown(ev.DestIP)
	proto := string(ev.Protocol)
	if proto == "" {
		proto = string(model.ProtocolOther)
	}
	return strings.NewReplacer(
		"{src}", src,
		"{dst}", dst,
		"{port}", strconv.Itoa(int(ev.DestPort)),
		"{proto}", proto,
	)
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}
