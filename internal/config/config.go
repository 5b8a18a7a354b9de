package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Timing holds every tunable duration of the session engine.
type Timing struct {
	ResumeGrace          time.Duration
	InactivityPauseAfter time.Duration
	ForfeitAfter         time.Duration
	ResumeRequestTTL     time.Duration
	DrawOfferTTL         time.Duration
	NoShowTimeout        time.Duration
	SweepInterval        time.Duration
	LockWait             time.Duration
	DrawCooldown         time.Duration
	ResumeCooldown       time.Duration
	PauseCooldown        time.Duration
	SendTimeout          time.Duration
}

// DefaultTiming is the single source of the engine's default durations.
func DefaultTiming() Timing {
	return Timing{
		ResumeGrace:          5 * time.Second,
		InactivityPauseAfter: 90 * time.Second,
		ForfeitAfter:         10 * time.Minute,
		ResumeRequestTTL:     45 * time.Second,
		DrawOfferTTL:         60 * time.Second,
		NoShowTimeout:        3 * time.Minute,
		SweepInterval:        10 * time.Second,
		LockWait:             3 * time.Second,
		DrawCooldown:         30 * time.Second,
		ResumeCooldown:       10 * time.Second,
		PauseCooldown:        30 * time.Second,
		SendTimeout:          5 * time.Second,
	}
}

type AppConfig struct {
	HTTPAddr string

	StoreDriver string // redis | sqlite | memory
	RedisURL    string
	SQLitePath  string
	DatabaseURL string

	ResultsStream string

	IdentityBaseURL      string
	IdentityStaticTokens string
	AdminAPIKeys         []string

	AutoResumeOnReconnect bool
	MaxReceipts           int
	TimeControl           string
	MsgcatDir             string

	Timing Timing
}

// fileConfig is the optional YAML overlay named by PVP_CONFIG_FILE.
type fileConfig struct {
	TimeControl string            `yaml:"time_control"`
	Timing      map[string]string `yaml:"timing"`
}

var timingEnv = []struct {
	env  string
	yaml string
	dst  func(*Timing) *time.Duration
}{
	{"PVP_RESUME_GRACE", "resume_grace", func(t *Timing) *time.Duration { return &t.ResumeGrace }},
	{"PVP_INACTIVITY_PAUSE_AFTER", "inactivity_pause_after", func(t *Timing) *time.Duration { return &t.InactivityPauseAfter }},
	{"PVP_FORFEIT_AFTER", "forfeit_after", func(t *Timing) *time.Duration { return &t.ForfeitAfter }},
	{"PVP_RESUME_REQUEST_TTL", "resume_request_ttl", func(t *Timing) *time.Duration { return &t.ResumeRequestTTL }},
	{"PVP_DRAW_OFFER_TTL", "draw_offer_ttl", func(t *Timing) *time.Duration { return &t.DrawOfferTTL }},
	{"PVP_NO_SHOW_TIMEOUT", "no_show_timeout", func(t *Timing) *time.Duration { return &t.NoShowTimeout }},
	{"PVP_SWEEP_INTERVAL", "sweep_interval", func(t *Timing) *time.Duration { return &t.SweepInterval }},
	{"PVP_LOCK_WAIT", "lock_wait", func(t *Timing) *time.Duration { return &t.LockWait }},
	{"PVP_DRAW_COOLDOWN", "draw_cooldown", func(t *Timing) *time.Duration { return &t.DrawCooldown }},
	{"PVP_RESUME_COOLDOWN", "resume_cooldown", func(t *Timing) *time.Duration { return &t.ResumeCooldown }},
	{"PVP_PAUSE_COOLDOWN", "pause_cooldown", func(t *Timing) *time.Duration { return &t.PauseCooldown }},
	{"PVP_SEND_TIMEOUT", "send_timeout", func(t *Timing) *time.Duration { return &t.SendTimeout }},
}

// Load reads .env (ENV_FILE), then the YAML overlay (PVP_CONFIG_FILE), then
// the environment. Environment values win.
func Load() (*AppConfig, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &AppConfig{
		HTTPAddr:      ":8080",
		SQLitePath:    "data/pvp.db",
		ResultsStream: "pvp:results",
		MaxReceipts:   64,
		TimeControl:   "5+3",
		Timing:        DefaultTiming(),
	}

	if path := strings.TrimSpace(os.Getenv("PVP_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("PVP_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "sqlite"
		if cfg.RedisURL != "" {
			cfg.StoreDriver = "redis"
		}
	}
	if v := strings.TrimSpace(os.Getenv("RESULTS_STREAM")); v != "" {
		cfg.ResultsStream = v
	}

	cfg.IdentityBaseURL = strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL"))
	cfg.IdentityStaticTokens = strings.TrimSpace(os.Getenv("IDENTITY_STATIC_TOKENS"))
	cfg.AdminAPIKeys = splitList(os.Getenv("ADMIN_API_KEYS"))

	if v := strings.TrimSpace(os.Getenv("PVP_AUTO_RESUME_ON_RECONNECT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoResumeOnReconnect = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("PVP_MAX_RECEIPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxReceipts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}
	cfg.MsgcatDir = strings.TrimSpace(os.Getenv("MSGCAT_DIR"))

	for _, f := range timingEnv {
		v := strings.TrimSpace(os.Getenv(f.env))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", f.env, v)
		}
		*f.dst(&cfg.Timing) = d
	}

	switch cfg.StoreDriver {
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for STORE_DRIVER=redis")
		}
	case "sqlite", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.IdentityBaseURL == "" && cfg.IdentityStaticTokens == "" {
		return nil, errors.New("IDENTITY_BASE_URL or IDENTITY_STATIC_TOKENS is required")
	}
	if cfg.Timing.SweepInterval <= 0 {
		return nil, errors.New("PVP_SWEEP_INTERVAL must be positive")
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if v := strings.TrimSpace(fc.TimeControl); v != "" {
		c.TimeControl = v
	}
	for _, f := range timingEnv {
		v, ok := fc.Timing[f.yaml]
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			return fmt.Errorf("config %s: timing.%s: invalid duration %q", path, f.yaml, v)
		}
		*f.dst(&c.Timing) = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
