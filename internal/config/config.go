package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const devSecret = "supersecret-dev-key"

type Config struct {
	Mode     Mode   `env:"MODE"      envDefault:"offline"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	SiteID   string `env:"SITE_ID"   envDefault:"local"` // stamped on event_log rows

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN"`

	AuthHMACSecret   string `env:"AUTH_HMAC_SECRET"    envDefault:"supersecret-dev-key"`
	EnableLocalAuth  bool   `env:"ENABLE_LOCAL_AUTH"   envDefault:"true"`
	DevLoginPassHash string `env:"DEV_LOGIN_PASS_HASH"` // bcrypt

	CORSOriginsOnline  []string `env:"CORS_ORIGINS_ONLINE"  envSeparator:"," envDefault:"https://exams.mindengage.ai"`
	CORSOriginsOffline []string `env:"CORS_ORIGINS_OFFLINE" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3010"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	AutosaveDebounce     time.Duration `env:"AUTOSAVE_DEBOUNCE"      envDefault:"500ms"`
	AutosaveMaxTries     uint          `env:"AUTOSAVE_MAX_TRIES"     envDefault:"3"`
	AutosaveWriteTimeout time.Duration `env:"AUTOSAVE_WRITE_TIMEOUT" envDefault:"5s"`

	GradingPartialMulti bool `env:"GRADING_PARTIAL_MULTI" envDefault:"false"`
}

// FromEnv reads Config from the process environment.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.CORSOriginsOnline = trimCSV(cfg.CORSOriginsOnline)
	cfg.CORSOriginsOffline = trimCSV(cfg.CORSOriginsOffline)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("MODE must be offline or online, got %q", c.Mode)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.Mode == ModeOnline && (c.AuthHMACSecret == "" || c.AuthHMACSecret == devSecret) {
		return fmt.Errorf("AUTH_HMAC_SECRET must be set in online mode")
	}
	if c.AutosaveMaxTries == 0 {
		return fmt.Errorf("AUTOSAVE_MAX_TRIES must be at least 1")
	}
	return nil
}

// CORSOrigins returns the allow-list for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func trimCSV(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
