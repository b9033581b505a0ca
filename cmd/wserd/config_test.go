package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wser/internal/testutil/testlog"
	"github.com/spf13/pflag"
)

func TestLoadExampleConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig(&flagOverrides{configPath: "ex.config.toml"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:5005" {
		t.Fatalf("unexpected listen addr: %q", cfg.Server.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
	if cfg.Commands.Root != "./shared" {
		t.Fatalf("unexpected root: %q", cfg.Commands.Root)
	}
	if cfg.Server.Session.InvokeTimeout != 7*time.Second {
		t.Fatalf("unexpected invoke timeout: %v", cfg.Server.Session.InvokeTimeout)
	}
	if cfg.Server.Session.TLS.Enabled {
		t.Fatalf("expected tls disabled")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	flags := pflag.NewFlagSet("wserd", pflag.ContinueOnError)
	o := bindFlags(flags)
	if err := flags.Parse([]string{"-c", "ex.config.toml", "--addr", ":7007", "--root", "/tmp/share", "--log-level", "warn"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(o)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ListenAddr != ":7007" || cfg.Commands.Root != "/tmp/share" || cfg.LogLevel != "warn" {
		t.Fatalf("flags not applied: addr=%q root=%q level=%q", cfg.Server.ListenAddr, cfg.Commands.Root, cfg.LogLevel)
	}
}

func TestMissingExplicitConfigFails(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nope.toml")
	if _, err := loadConfig(&flagOverrides{configPath: path}); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	testlog.Start(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	cfg, err := loadConfig(&flagOverrides{})
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.ListenAddr != ":5005" {
		t.Fatalf("unexpected default addr: %q", cfg.Server.ListenAddr)
	}
}
