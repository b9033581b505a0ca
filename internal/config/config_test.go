package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wser/internal/protocol/session"
	"github.com/danmuck/wser/internal/server"
	"github.com/danmuck/wser/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadAsDefaults(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{KindServer, KindClient} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s template", kind)
		}
		if err := Validate(path, kind); err != nil {
			t.Fatalf("validate %s template: %v", kind, err)
		}
	}

	srv, err := LoadServer(writeConfig(t, mustTemplate(t, KindServer)))
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if srv.Server.ListenAddr != server.DefaultListenAddr || srv.Server.Session != session.DefaultConfig() {
		t.Fatalf("server template drifted from defaults: %+v", srv.Server)
	}
	cli, err := LoadClient(writeConfig(t, mustTemplate(t, KindClient)))
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cli.Client.Header.Get("X-Wser-Client") != "wserctl" || cli.Client.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected client template values: %+v", cli.Client)
	}
	if _, err := Template("mirror"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func mustTemplate(t *testing.T, kind string) string {
	t.Helper()
	tmpl, err := Template(kind)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	return tmpl
}

func TestLoadServerOverlaysOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
addr = "127.0.0.1:6006"
metrics_path = ""
allowed_origins = [" https://ok.example ", ""]

[commands]
root = "/srv/share"
max_file_bytes = "2MiB"
disabled = [" sleep ", ""]

[session]
invoke_timeout = "30s"
max_segment_bytes = "512KiB"

[session.backoff]
jitter = false
`)
	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := session.DefaultConfig()
	if cfg.Server.ListenAddr != "127.0.0.1:6006" || cfg.Server.Path != "/" || cfg.Server.MetricsPath != "" {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("unexpected origins: %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Commands.Root != "/srv/share" || cfg.Commands.MaxFileBytes != 2<<20 || cfg.Commands.MaxSleep != time.Minute {
		t.Fatalf("unexpected commands: %+v", cfg.Commands)
	}
	if len(cfg.Commands.Disabled) != 1 || cfg.Commands.Disabled[0] != "sleep" {
		t.Fatalf("unexpected disabled commands: %q", cfg.Commands.Disabled)
	}
	s := cfg.Server.Session
	if s.InvokeTimeout != 30*time.Second || s.MaxSegmentBytes != 512<<10 {
		t.Fatalf("unexpected session overrides: %+v", s)
	}
	if s.KeepaliveInterval != def.KeepaliveInterval || s.MaxMessageBytes != def.MaxMessageBytes {
		t.Fatalf("undefined keys should keep defaults: %+v", s)
	}
	if s.Backoff.Jitter || s.Backoff.InitialDelay != def.Backoff.InitialDelay {
		t.Fatalf("unexpected backoff: %+v", s.Backoff)
	}
}

func TestLoadClientHeadersAndTLS(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
url = "wss://wser.example:5005/"
max_connect_attempts = 0

[headers]
authorization = "Bearer x"

[session]
security_mode = "production"

[session.tls]
enabled = true
mutual = true
cert_file = "client.crt"
key_file = "client.key"
ca_file = "ca.crt"
server_name = "wser.example"
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.Header.Get("Authorization") != "Bearer x" {
		t.Fatalf("unexpected headers: %v", cfg.Client.Header)
	}
	if cfg.Client.MaxConnectAttempts != 0 {
		t.Fatalf("unexpected attempts: %d", cfg.Client.MaxConnectAttempts)
	}
	tls := cfg.Client.Session.TLS
	if !tls.Enabled || !tls.Mutual || tls.ServerName != "wser.example" || tls.CAFile != "ca.crt" {
		t.Fatalf("unexpected tls: %+v", tls)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":        `adress = ":1"`,
		"bad duration":       "[session]\ninvoke_timeout = \"soon\"",
		"bad size":           "[session]\nmax_segment_bytes = \"lots\"",
		"zero size":          "[session]\nmax_segment_bytes = \"0B\"",
		"segment over max":   "[session]\nmax_segment_bytes = \"2MiB\"\nmax_message_bytes = \"1MiB\"",
		"dead before ping":   "[session]\nheartbeat_interval = \"10s\"\nsession_dead_after = \"5s\"",
		"relative path":      `path = "ws"`,
		"production no tls":  "[session]\nsecurity_mode = \"production\"",
		"unknown mode":       "[session]\nsecurity_mode = \"chaos\"",
		"negative max sleep": "[commands]\nmax_sleep = \"-1s\"",
	}
	for name, content := range cases {
		if _, err := LoadServer(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
	if _, err := LoadClient(writeConfig(t, "max_connect_attempts = -1")); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative attempts error, got %v", err)
	}
	if _, err := LoadServer(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
