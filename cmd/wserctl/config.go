package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danmuck/wser/internal/config"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "config.toml"

type flagOverrides struct {
	configPath string
	url        string
	headers    []string
	root       string
	logLevel   string
	timeout    time.Duration
	serve      bool
}

func bindFlags(flags *pflag.FlagSet) *flagOverrides {
	o := &flagOverrides{}
	flags.StringVarP(&o.configPath, "config", "c", "", "path to the client config (default ./config.toml when present)")
	flags.StringVarP(&o.url, "url", "u", "", "server url, overrides the config file")
	flags.StringArrayVarP(&o.headers, "header", "H", nil, "extra handshake header as Key=Value, repeatable")
	flags.StringVar(&o.root, "root", "", "directory the server may read through read_file and list_files")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	flags.DurationVarP(&o.timeout, "timeout", "t", 0, "invocation timeout, renewed by keepalives (default from session config)")
	flags.BoolVar(&o.serve, "serve", false, "stay connected and serve commands until interrupted")
	return o
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(o *flagOverrides) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	path := strings.TrimSpace(o.configPath)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			return config.ClientConfig{}, err
		}
	}
	if path != "" {
		loaded, err := config.LoadClient(path)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}

	if v := strings.TrimSpace(o.url); v != "" {
		cfg.Client.URL = v
	}
	for _, raw := range o.headers {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return config.ClientConfig{}, fmt.Errorf("invalid header %q, want Key=Value", raw)
		}
		if cfg.Client.Header == nil {
			cfg.Client.Header = http.Header{}
		}
		cfg.Client.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if v := strings.TrimSpace(o.root); v != "" {
		cfg.Commands.Root = v
	}
	if v := strings.TrimSpace(o.logLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, config.ValidateClient(cfg)
}
