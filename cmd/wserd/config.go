package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/danmuck/wser/internal/config"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "config.toml"

type flagOverrides struct {
	configPath string
	addr       string
	root       string
	logLevel   string
}

func bindFlags(flags *pflag.FlagSet) *flagOverrides {
	o := &flagOverrides{}
	flags.StringVarP(&o.configPath, "config", "c", "", "path to the server config (default ./config.toml when present)")
	flags.StringVar(&o.addr, "addr", "", "listen address, overrides the config file")
	flags.StringVar(&o.root, "root", "", "directory served by read_file and list_files")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	return o
}

// loadConfig resolves the config file and applies flag overrides. A
// missing default file falls back to built-in defaults; a missing
// explicit file is an error.
func loadConfig(o *flagOverrides) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	path := strings.TrimSpace(o.configPath)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			return config.ServerConfig{}, err
		}
	}
	if path != "" {
		loaded, err := config.LoadServer(path)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}

	if v := strings.TrimSpace(o.addr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(o.root); v != "" {
		cfg.Commands.Root = v
	}
	if v := strings.TrimSpace(o.logLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, config.ValidateServer(cfg)
}
