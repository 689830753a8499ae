package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DevanaGroup/titanium/internal/config"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8787" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("defaults %+v", cfg.Server)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("default log level %q", cfg.Log.Level)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := `
server:
  addr: ":9999"
auth:
  jwt_secret: "segredo"
log:
  level: debug
  development: true
webhooks:
  - url: https://hooks.example.com/titanium
    secret: abc
    actions: [MOVE_TASK, REJECT_TASK]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	// Unset fields keep their defaults.
	if cfg.Server.BasePath != "/v1" {
		t.Fatalf("base path %q", cfg.Server.BasePath)
	}
	if cfg.Auth.JWTSecret != "segredo" || !cfg.Log.Development {
		t.Fatalf("parsed config %+v", cfg)
	}
	if len(cfg.Webhooks) != 1 || len(cfg.Webhooks[0].Actions) != 2 {
		t.Fatalf("webhooks %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadWebhookURL(t *testing.T) {
	_, err := config.FromYAML([]byte(`
webhooks:
  - url: "ftp://nope"
`))
	if err == nil {
		t.Fatalf("expected error for non-http webhook url")
	}
	_, err = config.FromYAML([]byte(`
webhooks:
  - secret: only
`))
	if err == nil {
		t.Fatalf("expected error for webhook without url")
	}
}

func TestValidateRequiresAddr(t *testing.T) {
	_, err := config.FromYAML([]byte(`
server:
  addr: ""
`))
	if err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
