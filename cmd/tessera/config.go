package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gordian-engine/tessera/tconn"
	"github.com/gordian-engine/tessera/tplayer"
)

// config is the runtime configuration of one tessera instance.
type config struct {
	Name string

	LogFormat string
	LogLevel  slog.Level

	// File holding the base64 ed25519 seed that signs handshake claims.
	KeyFile string

	HTTPListen  string
	TLSCertFile string
	TLSKeyFile  string

	// Empty disables the QUIC transport.
	QUICListen string

	Capabilities tplayer.Capabilities
	Grace        time.Duration

	// Time allowed for in-flight work after a shutdown signal.
	ShutdownTimeout time.Duration

	Realms  []realmConfig
	Players []playerConfig
	Peers   []peerConfig
}

type realmConfig struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Owner string `toml:"owner"`
}

type playerConfig struct {
	Name    string   `toml:"name"`
	Blocked []string `toml:"blocked"`
}

type peerConfig struct {
	Name string `toml:"name"`

	// Base64 ed25519 public key.
	PublicKey string `toml:"public_key"`

	// Base URL of the peer's handshake server.
	// Defaults to "https://" + Name.
	URL string `toml:"url"`

	// If set, connections to the peer are dialed over QUIC at this address.
	QUICAddr string `toml:"quic_addr"`
}

// tessera.toml key mapping to runtime settings.
type fileConfig struct {
	Name            string         `toml:"name"`
	LogFormat       string         `toml:"log_format"`
	LogLevel        string         `toml:"log_level"`
	KeyFile         string         `toml:"key_file"`
	HTTPListen      string         `toml:"http_listen"`
	TLSCertFile     string         `toml:"tls_cert_file"`
	TLSKeyFile      string         `toml:"tls_key_file"`
	QUICListen      string         `toml:"quic_listen"`
	Capabilities    []string       `toml:"capabilities"`
	Grace           string         `toml:"grace"`
	ShutdownTimeout string         `toml:"shutdown_timeout"`
	Realms          []realmConfig  `toml:"realms"`
	Players         []playerConfig `toml:"players"`
	Peers           []peerConfig   `toml:"peers"`
}

func defaultConfig() config {
	return config{
		LogFormat: "text",
		LogLevel:  slog.LevelInfo,

		KeyFile: "tessera.key",

		HTTPListen: ":8443",
		QUICListen: "",

		Capabilities: tplayer.AllCapabilities(),
		Grace:        tconn.DefaultGrace,

		ShutdownTimeout: 10 * time.Second,
	}
}

// loadConfig reads the TOML file at path over defaultConfig.
// Keys missing from the file keep their defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return config{}, fmt.Errorf("load config: log_level: %w", err)
		}
	}
	if meta.IsDefined("key_file") {
		cfg.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("http_listen") {
		cfg.HTTPListen = strings.TrimSpace(raw.HTTPListen)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("quic_listen") {
		cfg.QUICListen = strings.TrimSpace(raw.QUICListen)
	}
	if meta.IsDefined("capabilities") {
		caps, unsupported := tplayer.ParseCapabilities(raw.Capabilities)
		if len(unsupported) > 0 {
			return config{}, fmt.Errorf(
				"load config: unsupported capabilities %v (known: %s)",
				unsupported, strings.Join(tplayer.KnownCapabilities(), ", "),
			)
		}
		cfg.Capabilities = caps
	}
	if meta.IsDefined("grace") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Grace))
		if err != nil {
			return config{}, fmt.Errorf("load config: grace: %w", err)
		}
		cfg.Grace = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return config{}, fmt.Errorf("load config: shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("realms") {
		cfg.Realms = raw.Realms
	}
	if meta.IsDefined("players") {
		cfg.Players = raw.Players
	}
	if meta.IsDefined("peers") {
		cfg.Peers = raw.Peers
	}

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs error

	if c.Name == "" {
		errs = errors.Join(errs, errors.New("name is required"))
	}
	if c.KeyFile == "" {
		errs = errors.Join(errs, errors.New("key_file is required"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = errors.Join(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = errors.Join(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	if c.QUICListen != "" && c.TLSCertFile == "" {
		errs = errors.Join(errs, errors.New("quic_listen requires tls_cert_file and tls_key_file"))
	}
	if c.Grace <= 0 {
		errs = errors.Join(errs, fmt.Errorf("grace must be positive, got %s", c.Grace))
	}

	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		switch {
		case p.Name == "":
			errs = errors.Join(errs, fmt.Errorf("peers[%d]: name is required", i))
		case p.Name == c.Name:
			errs = errors.Join(errs, fmt.Errorf("peers[%d]: %s is this instance", i, p.Name))
		case seen[p.Name]:
			errs = errors.Join(errs, fmt.Errorf("peers[%d]: duplicate peer %s", i, p.Name))
		}
		seen[p.Name] = true

		if p.PublicKey == "" {
			errs = errors.Join(errs, fmt.Errorf("peers[%d]: public_key is required", i))
		}
	}

	realms := make(map[string]bool, len(c.Realms))
	for i, r := range c.Realms {
		if r.ID == "" {
			errs = errors.Join(errs, fmt.Errorf("realms[%d]: id is required", i))
		}
		if realms[r.ID] {
			errs = errors.Join(errs, fmt.Errorf("realms[%d]: duplicate realm %s", i, r.ID))
		}
		realms[r.ID] = true
	}

	return errs
}

// peerNames returns the names of the configured peers, in file order.
func (c config) peerNames() []string {
	out := make([]string, len(c.Peers))
	for i, p := range c.Peers {
		out[i] = p.Name
	}
	return out
}

// peer returns the configuration for the peer named name.
func (c config) peer(name string) (peerConfig, bool) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return peerConfig{}, false
}
