package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// IptablesConfig names the chain and the exec path this actuator targets.
type IptablesConfig struct {
	Exe               string // default "/usr/sbin/iptables"
	Chain             string // e.g. "SPAFWD_INPUT"
	Interface         string // optional -i restriction, empty disables it
	NATEnabled        bool
	ForwardingEnabled bool
}

// IptablesActuator is the baseline firewall backend: it shells out to
// iptables to insert a per-flow ACCEPT rule, the same external-command
// pattern the rest of this module uses for GPG and authorized commands.
// It has no rule-expiry timer, and nothing in this module deletes an
// inserted rule: the rule stays in the chain after its admission window
// has elapsed.
type IptablesActuator struct {
	cfg    IptablesConfig
	logger *slog.Logger
	caps   Capabilities
}

// NewIptablesActuator builds an actuator that drives the named chain.
func NewIptablesActuator(cfg IptablesConfig, logger *slog.Logger) *IptablesActuator {
	if cfg.Exe == "" {
		cfg.Exe = "/usr/sbin/iptables"
	}
	return &IptablesActuator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "firewall.iptables")),
		caps: Capabilities{
			Backend:           "iptables",
			SupportsNAT:       cfg.NATEnabled,
			NATEnabled:        cfg.NATEnabled,
			ForwardingEnabled: cfg.ForwardingEnabled,
		},
	}
}

// Admit inserts one ACCEPT rule scoped to req's source address and the
// proto/port pairs in req.Scope. req.Timeout is recorded in the log line
// only; the rule is not removed when it elapses.
func (a *IptablesActuator) Admit(ctx context.Context, req Request) error {
	for _, pp := range splitScope(req.Scope) {
		args := []string{"-I", a.cfg.Chain}
		if a.cfg.Interface != "" {
			args = append(args, "-i", a.cfg.Interface)
		}
		args = append(args, "-s", req.SrcAddr.String(), "-p", pp.proto, "--dport", pp.port, "-j", "ACCEPT")

		runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out, err := exec.CommandContext(runCtx, a.cfg.Exe, args...).CombinedOutput()
		cancel()
		if err != nil {
			return fmt.Errorf("iptables insert for %s %s/%s: %w: %s", req.SrcAddr, pp.proto, pp.port, err, out)
		}
	}

	a.logger.InfoContext(ctx, "inserted iptables accept rule",
		slog.String("stanza", req.Stanza),
		slog.String("src", req.SrcAddr.String()),
		slog.String("scope", req.Scope),
		slog.Duration("timeout", req.Timeout),
	)
	return nil
}

// Capabilities reports NAT support as configured — iptables can do DNAT,
// but only when the operator has enabled it for this deployment.
func (a *IptablesActuator) Capabilities() Capabilities { return a.caps }

type protoPort struct {
	proto string
	port  string
}

// splitScope parses a "tcp/22,udp/53" scope string into proto/port pairs,
// skipping entries that don't fit the shape rather than failing the whole
// admit — a single malformed entry should not block the rest of the scope.
func splitScope(scope string) []protoPort {
	var out []protoPort
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ',' {
			entry := scope[start:i]
			start = i + 1
			if entry == "" {
				continue
			}
			for j := 0; j < len(entry); j++ {
				if entry[j] == '/' {
					out = append(out, protoPort{proto: entry[:j], port: entry[j+1:]})
					break
				}
			}
		}
	}
	return out
}
