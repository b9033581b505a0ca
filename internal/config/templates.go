package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as the given kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServer(path)
		return err
	case KindClient:
		_, err := LoadClient(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const sessionTemplate = `
[session]
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
heartbeat_interval = "5s"
session_dead_after = "15s"
begin_ack_timeout = "15s"
keepalive_interval = "2s"
invoke_timeout = "7s"
max_segment_bytes = "4MiB"
max_message_bytes = "1GiB"
security_mode = "development"

[session.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`

const serverTemplate = `log_level = "info"
addr = ":5005"
path = "/"
metrics_path = "/metrics"
allowed_origins = []

[commands]
root = ""
max_file_bytes = "256MiB"
max_sleep = "1m"
disabled = []
` + sessionTemplate

const clientTemplate = `log_level = "info"
url = "ws://127.0.0.1:5005/"
max_connect_attempts = 5

[headers]
X-Wser-Client = "wserctl"

[commands]
root = ""
max_file_bytes = "256MiB"
max_sleep = "1m"
disabled = []
` + sessionTemplate
