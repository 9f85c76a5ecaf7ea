// Package dispatcher implements the Request Dispatcher (C6): what happens
// to a message once the Message Validator has accepted it — command-cycle
// invocation, authorized command execution, and handing an admitted flow
// to the configured firewall actuator.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/nullbind/spafwd/internal/firewall"
	spametrics "github.com/nullbind/spafwd/internal/metrics"
	"github.com/nullbind/spafwd/internal/policy"
	"github.com/nullbind/spafwd/internal/validator"
)

// extCmdTimeout bounds every command-execution path, privilege-dropped or
// not — the daemon has no separate setuid helper to exempt from it.
const extCmdTimeout = 5 * time.Second

var (
	// ErrCmdExecDisabled marks a COMMAND message rejected because the
	// matching stanza has enable_cmd_exec unset.
	ErrCmdExecDisabled = errors.New("command execution not enabled for stanza")
	// ErrCmdFailed wraps a nonzero exit code or abnormal termination of
	// an authorized command, per §4.6's SPA_MSG_COMMAND_ERROR mapping.
	ErrCmdFailed = errors.New("authorized command exited with error")
)

// Config carries the daemon-level settings the dispatcher needs.
type Config struct {
	SudoExe        string
	SystemDefault  time.Duration // fallback effective_timeout when neither client nor stanza specify one
	DryRun         bool          // test mode: log what would happen, execute nothing
}

// Dispatcher routes an accepted verdict to command execution, command-cycle
// invocation, or the firewall actuator, per §4.6.
type Dispatcher struct {
	cfg      Config
	actuator firewall.Actuator
	logger   *slog.Logger
	metrics  *spametrics.Collector
}

// WithMetrics attaches a Prometheus collector that the actuator's Admit
// latency is recorded against. Optional: a nil collector (the default)
// skips metrics, mirroring spapipe.Orchestrator.WithMetrics.
func (d *Dispatcher) WithMetrics(m *spametrics.Collector) { d.metrics = m }

// New builds a Dispatcher bound to one firewall actuator. actuator may be
// nil only when every configured stanza relies solely on cmd_cycle_open/
// COMMAND messages — Dispatch returns an error if it's needed and absent.
func New(cfg Config, actuator firewall.Actuator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		actuator: actuator,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Backend reports the active firewall actuator's name, or "" when none is
// configured. Used only to label metrics emitted by the caller after
// Dispatch returns.
func (d *Dispatcher) Backend() string {
	if d.actuator == nil {
		return ""
	}
	return d.actuator.Capabilities().Backend
}

// EffectiveTimeout implements C6's timeout resolution: the client's
// requested timeout (seconds) if positive, else the stanza's configured
// timeout, else the system default.
func EffectiveTimeout(clientTimeoutSeconds int, stanzaTimeout, systemDefault time.Duration) time.Duration {
	if clientTimeoutSeconds > 0 {
		return time.Duration(clientTimeoutSeconds) * time.Second
	}
	if stanzaTimeout > 0 {
		return stanzaTimeout
	}
	return systemDefault
}

// Dispatch acts on one accepted Verdict. The firewall request's source is
// the verdict's effective source IP; the packet's network-layer addresses
// are not passed in, and the request's DstAddr is left unset.
func (d *Dispatcher) Dispatch(ctx context.Context, v validator.Verdict) error {
	if v.Kind != validator.KindAccept {
		return fmt.Errorf("dispatch called on non-accepting verdict (kind=%d)", v.Kind)
	}
	stanza := v.Stanza
	log := d.logger.With(slog.String("stanza", stanza.Name))

	if stanza.Exec.CmdCycleOpen != "" {
		log.InfoContext(ctx, "invoking command-cycle open command")
		return d.runCycleOpen(ctx, stanza)
	}

	if v.Decoded.MessageType == validator.MessageCommand {
		return d.dispatchCommand(ctx, log, stanza, v.Decoded)
	}

	return d.dispatchAccess(ctx, log, stanza, v.Decoded)
}

func (d *Dispatcher) runCycleOpen(ctx context.Context, stanza *policy.AccessStanza) error {
	if d.cfg.DryRun {
		d.logger.InfoContext(ctx, "dry-run: skipping command-cycle open", slog.String("stanza", stanza.Name))
		return nil
	}
	return d.run(ctx, stanza.Exec.CmdCycleOpen, policy.ExecPolicy{})
}

// dispatchCommand implements the COMMAND branch of §4.6: gated by
// enable_cmd_exec, optionally prefixed with the sudo executable and
// -u/-g flags (root user/group omitted from the flags), then executed
// via run_extcmd / run_extcmd_as.
func (d *Dispatcher) dispatchCommand(ctx context.Context, log *slog.Logger, stanza *policy.AccessStanza, decoded validator.DecodedMessage) error {
	if !stanza.Exec.EnableCmdExec {
		return fmt.Errorf("%w: stanza %q", ErrCmdExecDisabled, stanza.Name)
	}

	_, cmdBody, ok := strings.Cut(decoded.MessageBody, ",")
	if !ok {
		cmdBody = decoded.MessageBody
	}

	cmdLine := cmdBody
	if stanza.Exec.EnableSudoExec {
		cmdLine = sudoWrap(d.cfg.SudoExe, stanza.Exec.User, stanza.Exec.Group, cmdBody)
	}

	log.InfoContext(ctx, "executing authorized command", slog.String("command", cmdLine))

	if d.cfg.DryRun {
		log.InfoContext(ctx, "dry-run: not executing command")
		return nil
	}

	return d.run(ctx, cmdLine, stanza.Exec)
}

// dispatchAccess implements the ACCESS/SERVICE_ACCESS/NAT_ACCESS branch:
// resolve the effective timeout and hand the flow to the configured
// firewall actuator.
func (d *Dispatcher) dispatchAccess(ctx context.Context, log *slog.Logger, stanza *policy.AccessStanza, decoded validator.DecodedMessage) error {
	if d.actuator == nil {
		return fmt.Errorf("no firewall actuator configured for access message (stanza %q)", stanza.Name)
	}

	timeout := EffectiveTimeout(decoded.ClientTimeout, stanza.FWAccessTimeout, d.cfg.SystemDefault)

	req := firewall.Request{
		Stanza:  stanza.Name,
		SrcAddr: decoded.EffectiveSourceIP,
		Scope:   scopeString(decoded),
		Timeout: timeout,
	}

	if d.cfg.DryRun {
		log.InfoContext(ctx, "dry-run: would admit flow", slog.String("scope", req.Scope), slog.Duration("timeout", timeout))
		return nil
	}

	start := time.Now()
	err := d.actuator.Admit(ctx, req)
	if d.metrics != nil {
		d.metrics.ObserveActuatorLatency(d.Backend(), time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("admit flow for stanza %q: %w", stanza.Name, err)
	}

	log.InfoContext(ctx, "admitted flow", slog.String("src", req.SrcAddr.String()), slog.String("scope", req.Scope), slog.Duration("timeout", timeout))
	return nil
}

func scopeString(decoded validator.DecodedMessage) string {
	_, remainder, ok := strings.Cut(decoded.MessageBody, ",")
	if !ok {
		return ""
	}
	return remainder
}

// sudoWrap builds "sudo -u user -g group cmd", omitting -u/-g individually
// when the corresponding identity is root or unset (§4.6).
func sudoWrap(sudoExe, user, group, cmd string) string {
	var b strings.Builder
	b.WriteString(sudoExe)
	if user != "" && user != "root" {
		fmt.Fprintf(&b, " -u %s", user)
	}
	if group != "" && group != "root" {
		fmt.Fprintf(&b, " -g %s", group)
	}
	b.WriteString(" ")
	b.WriteString(cmd)
	return b.String()
}

// run executes cmdLine through /bin/sh -c, bounded by extCmdTimeout,
// mirroring original fwknop's run_extcmd/run_extcmd_as combined
// (process_status, exit_code) contract: any nonzero exit or abnormal
// termination becomes ErrCmdFailed. When exec is non-root (a non-root,
// non-empty user is configured), the child drops privileges to the
// configured uid/gid before exec — run_extcmd_as(uid, gid); otherwise it
// runs as the daemon's own privileges — run_extcmd.
func (d *Dispatcher) run(ctx context.Context, cmdLine string, execPolicy policy.ExecPolicy) error {
	runCtx, cancel := context.WithTimeout(ctx, extCmdTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdLine)
	if execPolicy.User != "" && execPolicy.User != "root" {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: execPolicy.Uid, Gid: execPolicy.Gid},
		}
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCmdFailed, strings.TrimSpace(string(out)), err)
	}
	return nil
}
