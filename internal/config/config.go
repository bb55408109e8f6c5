// Package config loads and validates ringcmh's tuning configuration:
// logging, RPC timing, the control-plane bind address and bootstrap
// discovery. The node's own identity (ip/port) always comes from the
// command line, never from here.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ringcmh/internal/logger"
)

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// RPCConfig controls the behavior of the RPC client cache and server.
type RPCConfig struct {
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	CallTimeout    time.Duration `yaml:"callTimeout"`
	DefaultDelayMs int64         `yaml:"defaultDelayMs"`
}

// ControlAPIConfig controls the (non-core) HTTP control plane.
type ControlAPIConfig struct {
	Bind string `yaml:"bind"`
}

type RegisterConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HostedZoneID string `yaml:"hostedZoneId"`
	DomainSuffix string `yaml:"domainSuffix"`
	TTL          int64  `yaml:"ttl"`
}

// BootstrapConfig selects how cmd/node finds a ring to join when no
// explicit peer is given on the command line.
type BootstrapConfig struct {
	Mode     string         `yaml:"mode"` // "none", "static", "dns"
	DNSName  string         `yaml:"dnsName"`
	SRV      bool           `yaml:"srv"`
	Port     int            `yaml:"port"`
	Peers    []string       `yaml:"peers"`
	Register RegisterConfig `yaml:"register"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	RPC        RPCConfig        `yaml:"rpc"`
	ControlAPI ControlAPIConfig `yaml:"controlApi"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Active:   true,
			Level:    "info",
			Encoding: "console",
			Mode:     "stdout",
		},
		RPC: RPCConfig{
			DialTimeout:    3 * time.Second,
			CallTimeout:    5 * time.Second,
			DefaultDelayMs: 0,
		},
		ControlAPI: ControlAPIConfig{
			Bind: "0.0.0.0:8080",
		},
		Bootstrap: BootstrapConfig{
			Mode: "none",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{Enabled: false, Exporter: "stdout"},
		},
	}
}

// LoadConfig loads configuration from a YAML file. Only syntactic
// parsing happens here; call ValidateConfig afterwards.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration loaded from file/defaults.
//
//	LOGGER_ENABLED, LOGGER_LEVEL, LOGGER_ENCODING, LOGGER_MODE, LOGGER_FILE_PATH
//	RPC_DIAL_TIMEOUT_MS, RPC_CALL_TIMEOUT_MS, RPC_DEFAULT_DELAY_MS
//	CONTROLAPI_BIND
//	BOOTSTRAP_MODE, BOOTSTRAP_DNSNAME, BOOTSTRAP_SRV, BOOTSTRAP_PORT, BOOTSTRAP_PEERS
//	REGISTER_ENABLED, REGISTER_ZONE_ID, REGISTER_SUFFIX, REGISTER_TTL
//	TRACE_ENABLED, TRACE_EXPORTER, TRACE_ENDPOINT
func (cfg *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOGGER_ENABLED"); v != "" {
		cfg.Logger.Active = truthy(v)
	}
	if v := os.Getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOGGER_ENCODING"); v != "" {
		cfg.Logger.Encoding = v
	}
	if v := os.Getenv("LOGGER_MODE"); v != "" {
		cfg.Logger.Mode = v
	}
	if v := os.Getenv("LOGGER_FILE_PATH"); v != "" {
		cfg.Logger.File.Path = v
	}

	if v := os.Getenv("RPC_DIAL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.RPC.DialTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RPC_CALL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.RPC.CallTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RPC_DEFAULT_DELAY_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RPC.DefaultDelayMs = ms
		}
	}

	if v := os.Getenv("CONTROLAPI_BIND"); v != "" {
		cfg.ControlAPI.Bind = v
	}

	if v := os.Getenv("BOOTSTRAP_MODE"); v != "" {
		cfg.Bootstrap.Mode = v
	}
	if v := os.Getenv("BOOTSTRAP_DNSNAME"); v != "" {
		cfg.Bootstrap.DNSName = v
	}
	if v := os.Getenv("BOOTSTRAP_SRV"); v != "" {
		cfg.Bootstrap.SRV = truthy(v)
	}
	if v := os.Getenv("BOOTSTRAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bootstrap.Port = port
		}
	}
	if v := os.Getenv("BOOTSTRAP_PEERS"); v != "" {
		cfg.Bootstrap.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("REGISTER_ENABLED"); v != "" {
		cfg.Bootstrap.Register.Enabled = truthy(v)
	}
	if v := os.Getenv("REGISTER_ZONE_ID"); v != "" {
		cfg.Bootstrap.Register.HostedZoneID = v
	}
	if v := os.Getenv("REGISTER_SUFFIX"); v != "" {
		cfg.Bootstrap.Register.DomainSuffix = v
	}
	if v := os.Getenv("REGISTER_TTL"); v != "" {
		if ttl, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Bootstrap.Register.TTL = ttl
		}
	}

	if v := os.Getenv("TRACE_ENABLED"); v != "" {
		cfg.Telemetry.Tracing.Enabled = truthy(v)
	}
	if v := os.Getenv("TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACE_ENDPOINT"); v != "" {
		cfg.Telemetry.Tracing.Endpoint = v
	}
}

func truthy(v string) bool {
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes"
}

// ValidateConfig performs structural validation, accumulating every
// problem found into a single error.
func (cfg *Config) ValidateConfig() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if cfg.RPC.DialTimeout <= 0 {
		errs = append(errs, "rpc.dialTimeout must be > 0")
	}
	if cfg.RPC.CallTimeout <= 0 {
		errs = append(errs, "rpc.callTimeout must be > 0")
	}
	if cfg.RPC.DefaultDelayMs < 0 {
		errs = append(errs, "rpc.defaultDelayMs must be >= 0")
	}

	if _, _, err := net.SplitHostPort(cfg.ControlAPI.Bind); err != nil {
		errs = append(errs, fmt.Sprintf("invalid controlApi.bind: %v", err))
	}

	switch cfg.Bootstrap.Mode {
	case "none":
	case "static":
		for _, p := range cfg.Bootstrap.Peers {
			if _, _, err := net.SplitHostPort(p); err != nil {
				errs = append(errs, fmt.Sprintf("invalid peer address %q in bootstrap.peers: %v", p, err))
			}
		}
	case "dns":
		if cfg.Bootstrap.DNSName == "" {
			errs = append(errs, "bootstrap.dnsName is required in mode=dns")
		}
		if !cfg.Bootstrap.SRV && cfg.Bootstrap.Port <= 0 {
			errs = append(errs, "bootstrap.port must be > 0 when using A/AAAA (srv=false)")
		}
		if cfg.Bootstrap.Register.Enabled {
			if cfg.Bootstrap.Register.HostedZoneID == "" {
				errs = append(errs, "bootstrap.register.hostedZoneId is required when register.enabled=true")
			}
			if cfg.Bootstrap.Register.DomainSuffix == "" {
				errs = append(errs, "bootstrap.register.domainSuffix is required when register.enabled=true")
			}
			if cfg.Bootstrap.Register.TTL <= 0 {
				errs = append(errs, "bootstrap.register.ttl must be > 0 when register.enabled=true")
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid bootstrap.mode: %s (must be none, static or dns)", cfg.Bootstrap.Mode))
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s", cfg.Telemetry.Tracing.Exporter))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig prints the loaded configuration at DEBUG level.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("logger.active", cfg.Logger.Active),
		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.encoding", cfg.Logger.Encoding),
		logger.F("logger.mode", cfg.Logger.Mode),
		logger.F("logger.file.path", cfg.Logger.File.Path),

		logger.F("rpc.dialTimeout", cfg.RPC.DialTimeout.String()),
		logger.F("rpc.callTimeout", cfg.RPC.CallTimeout.String()),
		logger.F("rpc.defaultDelayMs", cfg.RPC.DefaultDelayMs),

		logger.F("controlApi.bind", cfg.ControlAPI.Bind),

		logger.F("bootstrap.mode", cfg.Bootstrap.Mode),
		logger.F("bootstrap.dnsName", cfg.Bootstrap.DNSName),
		logger.F("bootstrap.srv", cfg.Bootstrap.SRV),
		logger.F("bootstrap.port", cfg.Bootstrap.Port),
		logger.F("bootstrap.peers", cfg.Bootstrap.Peers),

		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
		logger.F("telemetry.tracing.exporter", cfg.Telemetry.Tracing.Exporter),
		logger.F("telemetry.tracing.endpoint", cfg.Telemetry.Tracing.Endpoint),
	)
}
