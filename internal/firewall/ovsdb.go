package firewall

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"
)

// aclRow mirrors the columns of Open_vSwitch's ACL table this actuator
// writes to. libovsdb maps Go structs to OVSDB rows via `ovsdb:"..."`
// tags; only the columns this backend touches are modeled.
type aclRow struct {
	UUID      string   `ovsdb:"_uuid"`
	Priority  int      `ovsdb:"priority"`
	Direction string   `ovsdb:"direction"`
	Match     string   `ovsdb:"match"`
	Action    string   `ovsdb:"action"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// OVSDBConfig names the OVSDB endpoint and logical switch this actuator
// writes ACLs against.
type OVSDBConfig struct {
	Endpoint    string // e.g. "unix:/var/run/openvswitch/db.sock" or "tcp:127.0.0.1:6640"
	LogicalPort string
	Priority    int
}

// OVSDBActuator admits a flow by writing an allow ACL directly to the
// Open vSwitch database, for fabric deployments that manage connectivity
// through OVS ACLs rather than host iptables rules. Unlike the other two
// backends this one has no prior usage in the teacher codebase to adapt —
// it's grounded on the bare libovsdb dependency and the library's
// documented client/model/ovsdb conventions rather than an existing call
// site (see the grounding ledger).
type OVSDBActuator struct {
	cfg    OVSDBConfig
	ovs    client.Client
	logger *slog.Logger
	caps   Capabilities
}

// NewOVSDBActuator connects to the configured OVSDB endpoint and monitors
// the ACL table.
func NewOVSDBActuator(ctx context.Context, cfg OVSDBConfig, logger *slog.Logger) (*OVSDBActuator, error) {
	dbModel, err := model.NewClientDBModel("Open_vSwitch", map[string]model.Model{
		"ACL": &aclRow{},
	})
	if err != nil {
		return nil, fmt.Errorf("build ovsdb client model: %w", err)
	}

	ovsClient, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("construct ovsdb client: %w", err)
	}
	if err := ovsClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to ovsdb at %s: %w", cfg.Endpoint, err)
	}
	if _, err := ovsClient.Monitor(ctx, ovsClient.NewMonitor(
		client.WithTable(&aclRow{}),
	)); err != nil {
		return nil, fmt.Errorf("monitor ovsdb ACL table: %w", err)
	}

	return &OVSDBActuator{
		cfg:    cfg,
		ovs:    ovsClient,
		logger: logger.With(slog.String("component", "firewall.ovsdb")),
		caps:   Capabilities{Backend: "ovsdb", SupportsNAT: false, NATEnabled: false},
	}, nil
}

// Admit writes one allow ACL matching req's source address, scoped to the
// logical port this actuator was configured with.
func (a *OVSDBActuator) Admit(ctx context.Context, req Request) error {
	row := &aclRow{
		Priority:  a.cfg.Priority,
		Direction: "to-lport",
		Match:     fmt.Sprintf("ip4.src == %s && outport == %q", req.SrcAddr, a.cfg.LogicalPort),
		Action:    "allow-related",
		ExternalIDs: map[string]string{
			"stanza": req.Stanza,
			"scope":  req.Scope,
		},
	}

	ops, err := a.ovs.Create(row)
	if err != nil {
		return fmt.Errorf("build ovsdb insert op for %s: %w", req.SrcAddr, err)
	}

	result, err := a.ovs.Transact(ctx, ops...)
	if err != nil {
		return fmt.Errorf("ovsdb transact for %s: %w", req.SrcAddr, err)
	}
	if _, err := ovsdb.CheckOperationResults(result, ops); err != nil {
		return fmt.Errorf("ovsdb transaction rejected for %s: %w", req.SrcAddr, err)
	}

	a.logger.InfoContext(ctx, "wrote ovsdb allow acl",
		slog.String("stanza", req.Stanza),
		slog.String("src", req.SrcAddr.String()),
		slog.String("port", a.cfg.LogicalPort),
	)
	return nil
}

// Capabilities reports no NAT support — this backend only ever writes
// allow ACLs, never address rewrites.
func (a *OVSDBActuator) Capabilities() Capabilities { return a.caps }

// Close disconnects from the OVSDB server.
func (a *OVSDBActuator) Close() error {
	a.ovs.Disconnect()
	return nil
}
