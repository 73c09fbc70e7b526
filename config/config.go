// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (Discord token, panel token and endpoints), use Validate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // containers often ship without zoneinfo
)

// DefaultTimezone is the zone used for day-log rotation and user-facing timestamps.
const DefaultTimezone = "Asia/Taipei"

type Config struct {
	// Discord
	DiscordToken   string
	DiscordGuildID string
	OwnerIDs       []string
	ClearRoleID    string

	// Panel (web backend)
	PanelToken   string
	PanelAPIURL  string
	WSURL        string
	LoginPageURL string

	// Event stream
	StreamMaxRetries     int
	StreamBaseRetryDelay time.Duration
	StreamMaxRetryDelay  time.Duration // 0 = uncapped

	// Login codes
	LoginCodeCooldown time.Duration

	// Voice log
	VCLogDir       string
	VCLogMaxSizeMB int
	Location       *time.Location

	// Self-update
	RepoDir      string
	UpdateRemote string
	UpdateBranch string

	// Ops
	HTTPAddr string
	DBDsn    string
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials are missing;
// use Validate() before connecting. Malformed numeric or duration knobs are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")
	cfg.OwnerIDs = splitList(os.Getenv("OWNER_IDS"))
	cfg.ClearRoleID = os.Getenv("CLEAR_ROLE_ID")
	if cfg.ClearRoleID == "" {
		cfg.ClearRoleID = "1114205838144454807"
	}

	cfg.PanelToken = os.Getenv("ROBOWEB_API_TOKEN")
	cfg.PanelAPIURL = strings.TrimRight(os.Getenv("ROBOWEB_API_URL"), "/")
	cfg.WSURL = os.Getenv("WS_URL")
	if cfg.WSURL != "" && !strings.HasSuffix(cfg.WSURL, "/") {
		cfg.WSURL += "/"
	}
	cfg.LoginPageURL = os.Getenv("LOGIN_PAGE_URL")
	if cfg.LoginPageURL == "" {
		cfg.LoginPageURL = "https://panel.team7636.com/accounts/login/"
	}

	var err error
	if cfg.StreamMaxRetries, err = intEnv("STREAM_MAX_RETRIES", 15); err != nil {
		return nil, err
	}
	if cfg.StreamBaseRetryDelay, err = durationEnv("STREAM_BASE_RETRY_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamMaxRetryDelay, err = durationEnv("STREAM_MAX_RETRY_DELAY", 0); err != nil {
		return nil, err
	}
	if cfg.LoginCodeCooldown, err = durationEnv("LOGIN_CODE_COOLDOWN", 90*time.Second); err != nil {
		return nil, err
	}

	cfg.VCLogDir = os.Getenv("VC_LOG_DIR")
	if cfg.VCLogDir == "" {
		cfg.VCLogDir = "logs"
	}
	if cfg.VCLogMaxSizeMB, err = intEnv("VC_LOG_MAX_SIZE_MB", 50); err != nil {
		return nil, err
	}
	tz := os.Getenv("BOT_TIMEZONE")
	if tz == "" {
		tz = DefaultTimezone
	}
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid BOT_TIMEZONE %q: %w", tz, err)
	}

	cfg.RepoDir = os.Getenv("REPO_DIR")
	if cfg.RepoDir == "" {
		cfg.RepoDir = "."
	}
	cfg.UpdateRemote = os.Getenv("UPDATE_REMOTE")
	if cfg.UpdateRemote == "" {
		cfg.UpdateRemote = "origin"
	}
	cfg.UpdateBranch = os.Getenv("UPDATE_BRANCH")
	if cfg.UpdateBranch == "" {
		cfg.UpdateBranch = "main"
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	// Empty DSN disables the audit store.
	cfg.DBDsn = os.Getenv("DB_DSN")

	return cfg, nil
}

// Validate checks the fields required to start the bot.
func (c *Config) Validate() error {
	var missing []string
	if c.DiscordToken == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if c.PanelToken == "" {
		missing = append(missing, "ROBOWEB_API_TOKEN")
	}
	if c.PanelAPIURL == "" {
		missing = append(missing, "ROBOWEB_API_URL")
	}
	if c.WSURL == "" {
		missing = append(missing, "WS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing env: require %s", strings.Join(missing, ", "))
	}
	if c.StreamMaxRetries < 1 {
		return fmt.Errorf("STREAM_MAX_RETRIES must be >= 1, got %d", c.StreamMaxRetries)
	}
	if c.StreamBaseRetryDelay <= 0 {
		return fmt.Errorf("STREAM_BASE_RETRY_DELAY must be positive, got %s", c.StreamBaseRetryDelay)
	}
	return nil
}

// StreamURL returns the auth event-stream endpoint.
func (c *Config) StreamURL() string { return c.WSURL + "auth/" }

// IsOwner reports whether the Discord user id is listed in OWNER_IDS.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}
