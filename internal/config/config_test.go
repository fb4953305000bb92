package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/kbclient/internal/catalog"
	"github.com/danmuck/kbclient/internal/protocol/session"
	"github.com/danmuck/kbclient/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kbclient.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestClientTemplateLoads(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "kbclient.toml")
	if err := WriteTemplate(path, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "client", false); err == nil {
		t.Fatalf("expected existing file to be kept without overwrite")
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "tcp://localhost:4545" || cfg.Pipeline.Timeout != 100*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Selections) != 2 || cfg.Selections[0].Category != "DSSC" {
		t.Fatalf("unexpected selections: %+v", cfg.Selections)
	}
	if cfg.Redis.Enabled || cfg.Redis.Stream != "kbclient:trains" {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Session.Security.Mechanism != session.SecurityNull {
		t.Fatalf("unexpected security: %+v", cfg.Session.Security)
	}
}

func TestCatalogTemplateParses(t *testing.T) {
	testlog.Start(t)
	body, err := Template("catalog")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if _, err := catalog.Parse([]byte(body)); err != nil {
		t.Fatalf("catalog template must parse: %v", err)
	}
	if _, err := Template("server"); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestLoadClientConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
endpoint = "tcp://10.253.0.51:45000"
timeout = "250ms"
queue_capacity = 8
status_token = " s3cret "

[security]
mechanism = "PLAIN"
username = "operator"
password = "secret"

[redis]
enabled = true
url = "rediss://cache:6380/2"
ca_file = "/etc/kbclient/redis-ca.crt"
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint != "tcp://10.253.0.51:45000" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint)
	}
	if cfg.Session.ReceiveTimeout != 250*time.Millisecond || cfg.Pipeline.QueueCapacity != 8 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Pipeline.StatsInterval != 20 {
		t.Fatalf("expected default stats interval, got %d", cfg.Pipeline.StatsInterval)
	}
	if cfg.Session.Security.Mechanism != session.SecurityPlain || cfg.Session.Security.Username != "operator" {
		t.Fatalf("unexpected security: %+v", cfg.Session.Security)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "rediss://cache:6380/2" || cfg.Redis.Stream != "kbclient:trains" ||
		cfg.Redis.CAFile != "/etc/kbclient/redis-ca.crt" {
		t.Fatalf("unexpected redis: %+v", cfg.Redis)
	}
	if cfg.StatusToken != "s3cret" {
		t.Fatalf("expected trimmed status token, got %q", cfg.StatusToken)
	}
}

func TestLoadClientConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"endpoint": `endpoint = "localhost:4545"`,
		"timeout":  `timeout = "soon"`,
		"queue":    `queue_capacity = 0`,
		"select":   "[[select]]\ncategory = \"DSSC\"\n",
		"unknown":  `endpoitn = "tcp://localhost:4545"`,
		"security": "[security]\nmechanism = \"curve\"\n",
	}
	for name, body := range cases {
		if _, err := LoadClientConfig(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}
