package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"PVP_CONFIG_FILE", "REDIS_URL", "STORE_DRIVER", "IDENTITY_BASE_URL", "PVP_RESUME_GRACE", "TIME_CONTROL"} {
		t.Setenv(k, "")
	}
	t.Setenv("IDENTITY_STATIC_TOKENS", "tok-a=alice:Alice")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("driver = %q, want sqlite", cfg.StoreDriver)
	}
	if cfg.Timing != DefaultTiming() {
		t.Fatalf("timing = %+v", cfg.Timing)
	}
	if cfg.TimeControl != "5+3" || cfg.MaxReceipts != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "pvp.yaml")
	body := "time_control: \"10+0\"\ntiming:\n  resume_grace: 7s\n  forfeit_after: 20m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PVP_CONFIG_FILE", path)
	t.Setenv("PVP_RESUME_GRACE", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timing.ResumeGrace != 2*time.Second {
		t.Fatalf("env should win: %v", cfg.Timing.ResumeGrace)
	}
	if cfg.Timing.ForfeitAfter != 20*time.Minute {
		t.Fatalf("yaml overlay ignored: %v", cfg.Timing.ForfeitAfter)
	}
	if cfg.TimeControl != "10+0" {
		t.Fatalf("time control = %q", cfg.TimeControl)
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	isolate(t)
	envPath := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envPath, []byte("PVP_TEST_ONLY_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("PVP_TEST_ONLY_KEY") })
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("PVP_TEST_ONLY_KEY"); got != "from-dotenv" {
		t.Fatalf("dotenv value = %q", got)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	isolate(t)
	t.Setenv("STORE_DRIVER", "redis")
	if _, err := Load(); err == nil {
		t.Fatalf("redis driver without REDIS_URL should fail")
	}

	isolate(t)
	t.Setenv("PVP_RESUME_GRACE", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("invalid duration should fail")
	}

	isolate(t)
	t.Setenv("IDENTITY_STATIC_TOKENS", "")
	if _, err := Load(); err == nil {
		t.Fatalf("missing identity source should fail")
	}
}
