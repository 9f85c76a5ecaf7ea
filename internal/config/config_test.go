package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nullbind/spafwd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.GRPC.Addr != ":50051" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":50051")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if len(cfg.SPA.ListenAddrs) != 1 || cfg.SPA.ListenAddrs[0] != "0.0.0.0:62201" {
		t.Errorf("SPA.ListenAddrs = %v, want [\"0.0.0.0:62201\"]", cfg.SPA.ListenAddrs)
	}

	if cfg.SPA.SystemDefaultTimeout != 30*time.Second {
		t.Errorf("SPA.SystemDefaultTimeout = %v, want 30s", cfg.SPA.SystemDefaultTimeout)
	}

	if cfg.Firewall.Backend != "iptables" {
		t.Errorf("Firewall.Backend = %q, want %q", cfg.Firewall.Backend, "iptables")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
grpc:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
spa:
  listen_addrs: ["0.0.0.0:9922"]
  max_packet_age: "90s"
  system_default_timeout: "45s"
firewall:
  backend: "ovsdb"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.GRPC.Addr != ":60000" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if len(cfg.SPA.ListenAddrs) != 1 || cfg.SPA.ListenAddrs[0] != "0.0.0.0:9922" {
		t.Errorf("SPA.ListenAddrs = %v, want [\"0.0.0.0:9922\"]", cfg.SPA.ListenAddrs)
	}

	if cfg.SPA.MaxPacketAge != 90*time.Second {
		t.Errorf("SPA.MaxPacketAge = %v, want 90s", cfg.SPA.MaxPacketAge)
	}

	if cfg.SPA.SystemDefaultTimeout != 45*time.Second {
		t.Errorf("SPA.SystemDefaultTimeout = %v, want 45s", cfg.SPA.SystemDefaultTimeout)
	}

	if cfg.Firewall.Backend != "ovsdb" {
		t.Errorf("Firewall.Backend = %q, want %q", cfg.Firewall.Backend, "ovsdb")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override grpc.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
grpc:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.GRPC.Addr != ":55555" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if len(cfg.SPA.ListenAddrs) != 1 || cfg.SPA.ListenAddrs[0] != "0.0.0.0:62201" {
		t.Errorf("SPA.ListenAddrs = %v, want default [\"0.0.0.0:62201\"]", cfg.SPA.ListenAddrs)
	}

	if cfg.Firewall.Backend != "iptables" {
		t.Errorf("Firewall.Backend = %q, want default %q", cfg.Firewall.Backend, "iptables")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty grpc addr",
			modify: func(cfg *config.Config) {
				cfg.GRPC.Addr = ""
			},
			wantErr: config.ErrEmptyGRPCAddr,
		},
		{
			name: "no listen addrs",
			modify: func(cfg *config.Config) {
				cfg.SPA.ListenAddrs = nil
			},
			wantErr: config.ErrNoListenAddrs,
		},
		{
			name: "packet aging enabled with zero max age",
			modify: func(cfg *config.Config) {
				cfg.SPA.EnablePacketAging = true
				cfg.SPA.MaxPacketAge = 0
			},
			wantErr: config.ErrInvalidMaxPacketAge,
		},
		{
			name: "unknown firewall backend",
			modify: func(cfg *config.Config) {
				cfg.Firewall.Backend = "nftables"
			},
			wantErr: config.ErrUnknownFirewallBackend,
		},
		{
			name: "empty policy file",
			modify: func(cfg *config.Config) {
				cfg.Policy = ""
			},
			wantErr: config.ErrEmptyPolicyFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsMalformedListenAddr(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.SPA.ListenAddrs = []string{"not-an-addr-port"}

	if err := config.Validate(cfg); err == nil {
		t.Fatal("Validate() returned nil for malformed listen addr, want error")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
grpc:
  addr: ":50051"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("SPAFWD_GRPC_ADDR", ":60000")
	t.Setenv("SPAFWD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.GRPC.Addr != ":60000" {
		t.Errorf("GRPC.Addr = %q, want %q (from env)", cfg.GRPC.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
grpc:
  addr: ":50051"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("SPAFWD_METRICS_ADDR", ":9200")
	t.Setenv("SPAFWD_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "spafwd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
