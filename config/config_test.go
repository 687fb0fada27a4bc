package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratakit/strata/config"
)

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()

	cfg, err := config.Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "strata.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() string {
	return `
server:
  host: "127.0.0.1"
  port: 9090

database:
  driver: "sqlite"
  dsn: ":memory:"

entities:
  dir: "testdata/entities"
`
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 15s

database:
  driver: "sqlite"
  dsn: "/var/lib/strata/strata.db"

entities:
  dir: "/etc/strata/entities"

session:
  cookie: "my_session"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.DSN != "/var/lib/strata/strata.db" {
		t.Errorf("Database.DSN = %s, want /var/lib/strata/strata.db", cfg.Database.DSN)
	}
	if cfg.Entities.Dir != "/etc/strata/entities" {
		t.Errorf("Entities.Dir = %s, want /etc/strata/entities", cfg.Entities.Dir)
	}
	if cfg.Session.Cookie != "my_session" {
		t.Errorf("Session.Cookie = %s, want my_session", cfg.Session.Cookie)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "{}\n")

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default Database.Driver = %s, want sqlite", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "strata.db" {
		t.Errorf("default Database.DSN = %s, want strata.db", cfg.Database.DSN)
	}
	if cfg.Entities.Dir != "entities" {
		t.Errorf("default Entities.Dir = %s, want entities", cfg.Entities.Dir)
	}
	if cfg.Session.Cookie != "strata_session" {
		t.Errorf("default Session.Cookie = %s, want strata_session", cfg.Session.Cookie)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %s, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	content := `
database:
  driver: "oracle"
`
	path := writeConfig(t, content)

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	content := `
logging:
  level: "verbose"
`
	path := writeConfig(t, content)

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STRATA_SERVER_PORT", "7070")
	t.Setenv("STRATA_DATABASE_DRIVER", "postgres")
	t.Setenv("STRATA_DATABASE_DSN", "postgres://localhost/strata")

	cfg := writeAndLoad(t, validConfig())

	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %s, want postgres from env", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "postgres://localhost/strata" {
		t.Errorf("Database.DSN = %s, want env value", cfg.Database.DSN)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STRATA_ENTITIES_DIR", "/srv/entities")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Entities.Dir != "/srv/entities" {
		t.Errorf("Entities.Dir = %s, want /srv/entities", cfg.Entities.Dir)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadWithFallback(t *testing.T) {
	// Existing file wins.
	path := writeConfig(t, validConfig())
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from file", cfg.Server.Port)
	}

	// Missing file falls back to env defaults.
	cfg, err = config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback fallback error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("fallback Port = %d, want 8080", cfg.Server.Port)
	}
}
