package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"MODE", "HTTP_ADDR", "DB_DRIVER", "DB_DSN", "AUTH_HMAC_SECRET", "AUTOSAVE_DEBOUNCE", "CORS_ORIGINS_OFFLINE"} {
		t.Setenv(k, "")
	}
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Mode != ModeOffline || cfg.HTTPAddr != ":8080" || cfg.DBDriver != "sqlite" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.AutosaveDebounce != 500*time.Millisecond || cfg.AutosaveMaxTries != 3 || !cfg.EnableLocalAuth {
		t.Fatalf("autosave/auth defaults = %+v", cfg)
	}
	if !slices.Equal(cfg.CORSOrigins(), []string{"http://localhost:3000", "http://localhost:3010"}) {
		t.Fatalf("offline origins = %v", cfg.CORSOrigins())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("AUTH_HMAC_SECRET", "prod-secret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("CORS_ORIGINS_ONLINE", "https://a.example, ,https://b.example")
	t.Setenv("AUTOSAVE_DEBOUNCE", "250ms")
	t.Setenv("GRADING_PARTIAL_MULTI", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Mode != ModeOnline || cfg.DBDriver != "postgres" || !cfg.GradingPartialMulti || cfg.AutosaveDebounce != 250*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !slices.Equal(cfg.CORSOrigins(), []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("online origins = %v", cfg.CORSOrigins())
	}
}

func TestFromEnvRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown mode":          {"MODE": "hybrid"},
		"unknown driver":        {"DB_DRIVER": "mysql"},
		"dev secret online":     {"MODE": "online", "AUTH_HMAC_SECRET": ""},
		"bad duration":          {"AUTOSAVE_DEBOUNCE": "soon"},
		"zero autosave retries": {"AUTOSAVE_MAX_TRIES": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
