package config

import (
	"os"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateConfig(); err != nil {
		t.Errorf("Default() failed validation: %v", err)
	}
}

func TestValidateConfigRejectsBadLoggerLevel(t *testing.T) {
	cfg := Default()
	cfg.Logger.Level = "verbose"
	if err := cfg.ValidateConfig(); err == nil {
		t.Error("ValidateConfig() succeeded with an invalid logger level, want error")
	}
}

func TestValidateConfigRequiresHostedZoneForDNSRegister(t *testing.T) {
	cfg := Default()
	cfg.Bootstrap.Mode = "dns"
	cfg.Bootstrap.DNSName = "ring.internal"
	cfg.Bootstrap.Port = 9000
	cfg.Bootstrap.Register.Enabled = true
	if err := cfg.ValidateConfig(); err == nil {
		t.Error("ValidateConfig() succeeded with register.enabled but no hostedZoneId, want error")
	}
}

func TestValidateConfigRejectsBadStaticPeer(t *testing.T) {
	cfg := Default()
	cfg.Bootstrap.Mode = "static"
	cfg.Bootstrap.Peers = []string{"not-a-valid-addr"}
	if err := cfg.ValidateConfig(); err == nil {
		t.Error("ValidateConfig() succeeded with a malformed peer address, want error")
	}
}

func TestApplyEnvOverridesLoggerLevel(t *testing.T) {
	t.Setenv("LOGGER_LEVEL", "debug")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestApplyEnvOverridesBootstrapPeers(t *testing.T) {
	t.Setenv("BOOTSTRAP_PEERS", "10.0.0.1:9000,10.0.0.2:9000")
	cfg := Default()
	cfg.ApplyEnvOverrides()
	want := []string{"10.0.0.1:9000", "10.0.0.2:9000"}
	if len(cfg.Bootstrap.Peers) != 2 || cfg.Bootstrap.Peers[0] != want[0] || cfg.Bootstrap.Peers[1] != want[1] {
		t.Errorf("Bootstrap.Peers = %v, want %v", cfg.Bootstrap.Peers, want)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/ringcmh.yaml"); err == nil {
		t.Error("LoadConfig succeeded for a nonexistent file, want error")
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ringcmh-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	_, err = f.WriteString("logger:\n  active: true\n  level: warn\n  encoding: json\n  mode: stdout\n")
	if err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	f.Close()

	cfg, err := LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q, want warn", cfg.Logger.Level)
	}
}
