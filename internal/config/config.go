// Package config loads the TOML files of the wser binaries. Every key is
// optional; values present in the file overlay the package defaults.
package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wser/internal/client"
	"github.com/danmuck/wser/internal/commands"
	"github.com/danmuck/wser/internal/server"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// ServerConfig is the resolved wserd configuration.
type ServerConfig struct {
	LogLevel string
	Server   server.Config
	Commands commands.Options
}

// ClientConfig is the resolved wserctl configuration.
type ClientConfig struct {
	LogLevel string
	Client   client.Config
	Commands commands.Options
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		LogLevel: "info",
		Server:   server.DefaultConfig(),
		Commands: commands.DefaultOptions(),
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		LogLevel: "info",
		Client:   client.DefaultConfig(),
		Commands: commands.DefaultOptions(),
	}
}

type serverFile struct {
	LogLevel       string       `toml:"log_level"`
	Addr           string       `toml:"addr"`
	Path           string       `toml:"path"`
	MetricsPath    string       `toml:"metrics_path"`
	AllowedOrigins []string     `toml:"allowed_origins"`
	Commands       commandsFile `toml:"commands"`
	Session        sessionFile  `toml:"session"`
}

type clientFile struct {
	LogLevel           string            `toml:"log_level"`
	URL                string            `toml:"url"`
	MaxConnectAttempts int               `toml:"max_connect_attempts"`
	Headers            map[string]string `toml:"headers"`
	Commands           commandsFile      `toml:"commands"`
	Session            sessionFile       `toml:"session"`
}

type commandsFile struct {
	Root         string   `toml:"root"`
	MaxFileBytes string   `toml:"max_file_bytes"`
	MaxSleep     string   `toml:"max_sleep"`
	Disabled     []string `toml:"disabled"`
}

// LoadServer reads a wserd config file over DefaultServerConfig.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("path") {
		cfg.Server.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("metrics_path") {
		cfg.Server.MetricsPath = strings.TrimSpace(raw.MetricsPath)
	}
	if meta.IsDefined("allowed_origins") {
		cfg.Server.AllowedOrigins = trimAll(raw.AllowedOrigins)
	}
	if err := overlayCommands(meta, raw.Commands, &cfg.Commands); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := overlaySession(meta, raw.Session, &cfg.Server.Session); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := ValidateServer(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClient reads a wserctl config file over DefaultClientConfig.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if err := rejectUndecoded(meta); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("url") {
		cfg.Client.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if len(raw.Headers) > 0 {
		cfg.Client.Header = make(http.Header, len(raw.Headers))
		for k, v := range raw.Headers {
			cfg.Client.Header.Set(strings.TrimSpace(k), v)
		}
	}
	if err := overlayCommands(meta, raw.Commands, &cfg.Commands); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if err := overlaySession(meta, raw.Session, &cfg.Client.Session); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if err := ValidateClient(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateServer(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return fmt.Errorf("server config path must start with /: %q", cfg.Server.Path)
	}
	if mp := cfg.Server.MetricsPath; mp != "" && !strings.HasPrefix(mp, "/") {
		return fmt.Errorf("server config metrics_path must start with /: %q", mp)
	}
	if err := cfg.Server.Session.ValidateServerTransport(); err != nil {
		return fmt.Errorf("server config transport: %w", err)
	}
	return nil
}

func ValidateClient(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Client.URL) == "" {
		return fmt.Errorf("client config missing url")
	}
	if cfg.Client.MaxConnectAttempts < 0 {
		return fmt.Errorf("client config max_connect_attempts must not be negative")
	}
	if err := cfg.Client.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client config transport: %w", err)
	}
	return nil
}

func overlayCommands(meta toml.MetaData, raw commandsFile, opts *commands.Options) error {
	if meta.IsDefined("commands", "root") {
		opts.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("commands", "max_file_bytes") {
		v, err := parseSize(raw.MaxFileBytes)
		if err != nil {
			return fmt.Errorf("commands.max_file_bytes: %w", err)
		}
		opts.MaxFileBytes = v
	}
	if meta.IsDefined("commands", "max_sleep") {
		v, err := parseDuration(raw.MaxSleep)
		if err != nil {
			return fmt.Errorf("commands.max_sleep: %w", err)
		}
		opts.MaxSleep = v
	}
	if meta.IsDefined("commands", "disabled") {
		opts.Disabled = trimAll(raw.Disabled)
	}
	return nil
}

func rejectUndecoded(meta toml.MetaData) error {
	keys := meta.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
