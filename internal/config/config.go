// Package config manages spafwd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables layered over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete spafwd configuration.
type Config struct {
	GRPC     GRPCConfig    `koanf:"grpc"`
	Metrics  MetricsConfig `koanf:"metrics"`
	Log      LogConfig     `koanf:"log"`
	SPA      SPAConfig     `koanf:"spa"`
	Firewall FirewallConfig `koanf:"firewall"`
	Policy   string        `koanf:"policy_file"`
}

// GRPCConfig holds the ConnectRPC admin server configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SPAConfig holds the §6 configuration keys the ingestion pipeline
// consults, named after their original ALL_CAPS counterparts but spelled
// the way koanf/YAML expects.
type SPAConfig struct {
	// ListenAddrs are the UDP sockets the receiver binds (e.g. ":62201").
	ListenAddrs []string `koanf:"listen_addrs"`

	// EnableSPAOverHTTP mirrors ENABLE_SPA_OVER_HTTP.
	EnableSPAOverHTTP bool `koanf:"enable_spa_over_http"`

	// DisableIdentityMode mirrors DISABLE_SDP_MODE: when true, the policy
	// index runs in classic (ordered linear-scan) mode instead of
	// identity-keyed hash mode.
	DisableIdentityMode bool `koanf:"disable_identity_mode"`

	// EnableDigestPersistence mirrors ENABLE_DIGEST_PERSISTENCE.
	EnableDigestPersistence bool `koanf:"enable_digest_persistence"`

	// DigestCacheDir is where the replay cache's FileStore persists digests.
	DigestCacheDir string `koanf:"digest_cache_dir"`

	// EnablePacketAging mirrors ENABLE_SPA_PACKET_AGING.
	EnablePacketAging bool `koanf:"enable_packet_aging"`

	// MaxPacketAge mirrors MAX_SPA_PACKET_AGE.
	MaxPacketAge time.Duration `koanf:"max_packet_age"`

	// AllowLegacyAccess mirrors ALLOW_LEGACY_ACCESS_REQUESTS.
	AllowLegacyAccess bool `koanf:"allow_legacy_access"`

	// SystemDefaultTimeout is the effective_timeout fallback used when
	// neither the client nor the matched stanza specify one.
	SystemDefaultTimeout time.Duration `koanf:"system_default_timeout"`

	// SudoExe mirrors SUDO_EXE: the sudo binary path for COMMAND messages
	// whose stanza has enable_cmd_sudo_exec set.
	SudoExe string `koanf:"sudo_exe"`

	// MaintenanceInterval is how often the periodic sweep (marking stanzas
	// past their expire time as expired) runs. Zero disables the ticker.
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`

	// TestMode mirrors opts->test: skip dispatch and replay-digest
	// commit, log only. Intended for deterministic integration tests,
	// never production.
	TestMode bool `koanf:"test_mode"`

	// PacketLimit mirrors packet_ctr_limit: an optional bound on the
	// total number of packets the receiver processes before it shuts the
	// daemon down gracefully. Zero (the default) means unlimited; useful
	// for scripted test harnesses that want the process to exit on its
	// own once a fixed number of packets has been delivered.
	PacketLimit uint64 `koanf:"packet_limit"`
}

// FirewallConfig selects and parameterizes the active firewall actuator
// backend. Exactly one of the three backend sections is used, chosen by
// Backend.
type FirewallConfig struct {
	// Backend selects the actuator: "iptables", "ovsdb", or "flowspec".
	Backend string `koanf:"backend"`

	// ForwardingEnabled mirrors ENABLE_{FIREWD,IPT}_FORWARDING.
	ForwardingEnabled bool `koanf:"forwarding_enabled"`
	// LocalNATEnabled mirrors ENABLE_{FIREWD,IPT}_LOCAL_NAT.
	LocalNATEnabled bool `koanf:"local_nat_enabled"`

	Iptables IptablesConfig `koanf:"iptables"`
	OVSDB    OVSDBConfig    `koanf:"ovsdb"`
	Flowspec FlowspecConfig `koanf:"flowspec"`
}

// IptablesConfig parameterizes the exec-based iptables backend.
type IptablesConfig struct {
	Exe       string `koanf:"exe"`
	Chain     string `koanf:"chain"`
	Interface string `koanf:"interface"`
}

// OVSDBConfig parameterizes the OVS ACL backend.
type OVSDBConfig struct {
	Endpoint    string `koanf:"endpoint"`
	LogicalPort string `koanf:"logical_port"`
	Priority    int    `koanf:"priority"`
}

// FlowspecConfig parameterizes the BGP Flowspec backend.
type FlowspecConfig struct {
	GoBGPAddr string `koanf:"gobgp_addr"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		SPA: SPAConfig{
			ListenAddrs:          []string{"0.0.0.0:62201"},
			DigestCacheDir:       "/var/lib/spafwd/digest-cache",
			MaxPacketAge:         2 * time.Minute,
			SystemDefaultTimeout: 30 * time.Second,
			SudoExe:              "/usr/bin/sudo",
			MaintenanceInterval:  10 * time.Second,
		},
		Firewall: FirewallConfig{
			Backend: "iptables",
			Iptables: IptablesConfig{
				Exe:   "/usr/sbin/iptables",
				Chain: "SPAFWD_INPUT",
			},
		},
		Policy: "/etc/spafwd/access.yaml",
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for spafwd configuration.
// Variables are named SPAFWD_<section>_<key>, e.g., SPAFWD_GRPC_ADDR.
const envPrefix = "SPAFWD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SPAFWD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SPAFWD_GRPC_ADDR -> grpc.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":                        defaults.GRPC.Addr,
		"metrics.addr":                     defaults.Metrics.Addr,
		"metrics.path":                     defaults.Metrics.Path,
		"log.level":                        defaults.Log.Level,
		"log.format":                       defaults.Log.Format,
		"spa.listen_addrs":                 defaults.SPA.ListenAddrs,
		"spa.digest_cache_dir":             defaults.SPA.DigestCacheDir,
		"spa.max_packet_age":               defaults.SPA.MaxPacketAge.String(),
		"spa.system_default_timeout":       defaults.SPA.SystemDefaultTimeout.String(),
		"spa.sudo_exe":                     defaults.SPA.SudoExe,
		"spa.maintenance_interval":         defaults.SPA.MaintenanceInterval.String(),
		"firewall.backend":                 defaults.Firewall.Backend,
		"firewall.iptables.exe":            defaults.Firewall.Iptables.Exe,
		"firewall.iptables.chain":          defaults.Firewall.Iptables.Chain,
		"policy_file":                      defaults.Policy,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the gRPC listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrNoListenAddrs indicates no SPA listen sockets were configured.
	ErrNoListenAddrs = errors.New("spa.listen_addrs must not be empty")

	// ErrInvalidMaxPacketAge indicates packet aging is enabled with a
	// non-positive max age.
	ErrInvalidMaxPacketAge = errors.New("spa.max_packet_age must be > 0 when packet aging is enabled")

	// ErrUnknownFirewallBackend indicates firewall.backend names a backend
	// this build doesn't recognize.
	ErrUnknownFirewallBackend = errors.New("firewall.backend must be one of: iptables, ovsdb, flowspec")

	// ErrEmptyPolicyFile indicates no access-policy file path was configured.
	ErrEmptyPolicyFile = errors.New("policy_file must not be empty")
)

// validFirewallBackends lists the recognized firewall.backend strings.
var validFirewallBackends = map[string]bool{
	"iptables": true,
	"ovsdb":    true,
	"flowspec": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if len(cfg.SPA.ListenAddrs) == 0 {
		return ErrNoListenAddrs
	}
	for _, a := range cfg.SPA.ListenAddrs {
		if _, err := netip.ParseAddrPort(a); err != nil {
			return fmt.Errorf("spa.listen_addrs %q: %w", a, err)
		}
	}

	if cfg.SPA.EnablePacketAging && cfg.SPA.MaxPacketAge <= 0 {
		return ErrInvalidMaxPacketAge
	}

	if !validFirewallBackends[cfg.Firewall.Backend] {
		return fmt.Errorf("%w, got %q", ErrUnknownFirewallBackend, cfg.Firewall.Backend)
	}

	if cfg.Policy == "" {
		return ErrEmptyPolicyFile
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
