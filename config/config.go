// Package config loads and validates the AQC core's flat configuration
// record: one recognised-options struct, no builder, no global mutable
// state (spec §9).
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	aqc "github.com/aranya-project/aqc-go"
)

// Config is the single flat configuration record for an AQC Driver.
type Config struct {
	Server  ServerConfig
	Logging LoggingConfig
}

// ServerConfig carries the recognised options named in spec §9.
type ServerConfig struct {
	// DaemonSocketPath is the local domain socket the policy engine (C7)
	// listens on.
	DaemonSocketPath string

	// QUICListenAddr is the address the endpoint driver's QUIC server
	// listens on ("host:port").
	QUICListenAddr string

	// IdleTimeout is the QUIC idle timeout. Per spec §5 the default for
	// control connections is 30s; data connections use keep-alive instead
	// of relying solely on this value.
	IdleTimeout time.Duration

	// SyncInterval paces the (out-of-scope) graph-replication subsystem;
	// the core only threads it through configuration so a single config
	// file can drive the whole node.
	SyncInterval time.Duration

	// SupportedSuites names the TLS 1.3 cipher suites PSK families are
	// derived across, e.g. "TLS_AES_256_GCM_SHA384".
	SupportedSuites []string

	// BootstrapSecretHex is the hex encoding of the pre-existing bootstrap
	// PSK secret this node shares with its counterparties, established out
	// of band by the policy engine during team enrollment (spec §1/§6 —
	// provisioning the bootstrap PSK itself is out of core's scope; the
	// core only needs the resulting secret to install at startup).
	BootstrapSecretHex string
}

// LoggingConfig mirrors the teacher's logging options (disable, file,
// level).
type LoggingConfig struct {
	Disable bool
	File    string
	Level   string
}

// Load reads and parses a TOML configuration file, then validates it.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("aqc: config: failed to parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every required field is present and sane. It is
// intended to be called once at startup; failure is fatal.
func (c *Config) Validate() error {
	if c.Server.DaemonSocketPath == "" {
		return &aqc.ConfigError{Field: "server.daemon_socket_path", Err: fmt.Errorf("required")}
	}
	if c.Server.QUICListenAddr == "" {
		return &aqc.ConfigError{Field: "server.quic_listen_addr", Err: fmt.Errorf("required")}
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = 30 * time.Second
	}
	if len(c.Server.SupportedSuites) == 0 {
		return &aqc.ConfigError{Field: "server.supported_suites", Err: fmt.Errorf("must list at least one cipher suite")}
	}
	switch c.Logging.Level {
	case "", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	default:
		return &aqc.ConfigError{Field: "logging.level", Err: fmt.Errorf("%q is not a recognised level", c.Logging.Level)}
	}
	if c.Server.BootstrapSecretHex == "" {
		return &aqc.ConfigError{Field: "server.bootstrap_secret", Err: fmt.Errorf("required")}
	}
	if _, err := c.BootstrapSecret(); err != nil {
		return &aqc.ConfigError{Field: "server.bootstrap_secret", Err: err}
	}
	return nil
}

// BootstrapSecret decodes BootstrapSecretHex into the raw secret bytes
// installed as the bootstrap PSK at driver startup.
func (c *Config) BootstrapSecret() ([]byte, error) {
	b, err := hex.DecodeString(c.Server.BootstrapSecretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// CipherSuites resolves the configured SupportedSuites names to their
// aqc.CipherSuite values, in the order given. An unrecognised name is a
// ConfigError, caught by Validate's callers before the driver starts.
func (c *Config) CipherSuites() ([]aqc.CipherSuite, error) {
	out := make([]aqc.CipherSuite, 0, len(c.Server.SupportedSuites))
	for _, name := range c.Server.SupportedSuites {
		suite, ok := suiteByName[name]
		if !ok {
			return nil, &aqc.ConfigError{Field: "server.supported_suites", Err: fmt.Errorf("unrecognised cipher suite %q", name)}
		}
		out = append(out, suite)
	}
	return out, nil
}

var suiteByName = map[string]aqc.CipherSuite{
	"TLS_AES_256_GCM_SHA384":       aqc.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": aqc.TLS_CHACHA20_POLY1305_SHA256,
}
