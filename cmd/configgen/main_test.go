package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/wser/internal/testutil/testlog"
)

func TestGenerateThenValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"server", "client"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		var stdout, stderr bytes.Buffer
		if code := run([]string{"--kind", kind, "-o", path}, &stdout, &stderr); code != 0 {
			t.Fatalf("generate %s: code=%d stderr=%s", kind, code, stderr.String())
		}
		if code := run([]string{"--kind", kind, "-o", path}, &stdout, &stderr); code == 0 {
			t.Fatalf("generate %s twice should refuse without --force", kind)
		}
		if code := run([]string{"--kind", kind, "-o", path, "--force"}, &stdout, &stderr); code != 0 {
			t.Fatalf("forced generate %s: code=%d stderr=%s", kind, code, stderr.String())
		}
		stdout.Reset()
		if code := run([]string{"--kind", kind, "--validate", "-i", path}, &stdout, &stderr); code != 0 {
			t.Fatalf("validate %s: code=%d stderr=%s", kind, code, stderr.String())
		}
		if !strings.Contains(stdout.String(), "Validated "+kind) {
			t.Fatalf("unexpected output %q", stdout.String())
		}
	}
}

func TestValidateReportsBrokenConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[session]\ninvoke_timeout = \"later\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--validate", "-i", path}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(stderr.String(), "invoke_timeout") {
		t.Fatalf("error should name the key, got %q", stderr.String())
	}
	if code := run([]string{"--kind", "mirror"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected unknown kind failure")
	}
}
