package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STREAM_MAX_RETRIES", "STREAM_BASE_RETRY_DELAY", "STREAM_MAX_RETRY_DELAY", "LOGIN_CODE_COOLDOWN", "VC_LOG_DIR", "BOT_TIMEZONE", "HTTP_ADDR", "WS_URL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StreamMaxRetries != 15 {
		t.Errorf("StreamMaxRetries = %d, want 15", cfg.StreamMaxRetries)
	}
	if cfg.StreamBaseRetryDelay != 2*time.Second {
		t.Errorf("StreamBaseRetryDelay = %s, want 2s", cfg.StreamBaseRetryDelay)
	}
	if cfg.StreamMaxRetryDelay != 0 {
		t.Errorf("StreamMaxRetryDelay = %s, want uncapped (0)", cfg.StreamMaxRetryDelay)
	}
	if cfg.LoginCodeCooldown != 90*time.Second {
		t.Errorf("LoginCodeCooldown = %s, want 90s", cfg.LoginCodeCooldown)
	}
	if cfg.VCLogDir != "logs" {
		t.Errorf("VCLogDir = %q, want logs", cfg.VCLogDir)
	}
	if cfg.Location.String() != DefaultTimezone {
		t.Errorf("Location = %s, want %s", cfg.Location, DefaultTimezone)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadInvalidKnobs(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STREAM_MAX_RETRIES", "many"},
		{"STREAM_BASE_RETRY_DELAY", "2"},
		{"LOGIN_CODE_COOLDOWN", "soon"},
		{"BOT_TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Load() error = %v, want error mentioning %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "discord")
	t.Setenv("ROBOWEB_API_TOKEN", "panel")
	t.Setenv("ROBOWEB_API_URL", "https://panel.example/api/")
	t.Setenv("WS_URL", "wss://panel.example/ws")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	if cfg.PanelAPIURL != "https://panel.example/api" {
		t.Errorf("PanelAPIURL = %q, want trailing slash trimmed", cfg.PanelAPIURL)
	}
	if got := cfg.StreamURL(); got != "wss://panel.example/ws/auth/" {
		t.Errorf("StreamURL() = %q", got)
	}

	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("WS_URL", "")
	cfg, _ = Load()
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error when credentials are missing")
	}
	if !strings.Contains(err.Error(), "DISCORD_TOKEN") || !strings.Contains(err.Error(), "WS_URL") {
		t.Errorf("error %q should list every missing variable", err)
	}
}

func TestValidateRetryBudget(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "discord")
	t.Setenv("ROBOWEB_API_TOKEN", "panel")
	t.Setenv("ROBOWEB_API_URL", "https://panel.example/api")
	t.Setenv("WS_URL", "wss://panel.example/ws/")
	for _, v := range []string{"0", "-1"} {
		t.Setenv("STREAM_MAX_RETRIES", v)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "STREAM_MAX_RETRIES") {
			t.Errorf("STREAM_MAX_RETRIES=%s: Validate() = %v, want rejection", v, err)
		}
	}
	t.Setenv("STREAM_MAX_RETRIES", "1")
	cfg, _ := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("STREAM_MAX_RETRIES=1: unexpected error %v", err)
	}
}

func TestIsOwner(t *testing.T) {
	t.Setenv("OWNER_IDS", " 111, 222 ,,")
	cfg, _ := Load()
	if len(cfg.OwnerIDs) != 2 {
		t.Fatalf("OwnerIDs = %v, want 2 entries", cfg.OwnerIDs)
	}
	if !cfg.IsOwner("222") {
		t.Error("expected 222 to be owner")
	}
	if cfg.IsOwner("333") {
		t.Error("did not expect 333 to be owner")
	}
}
