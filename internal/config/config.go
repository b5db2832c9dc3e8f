package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Content
	ContentDir     string
	ContentBaseURL string
	StaticDir      string
	WatchContent   bool
	Renderer       string
	// Site owner, used in dialogue text
	OwnerName  string
	OwnerEmail string
	// Contact submission endpoint
	SubmissionEndpoint     string
	SubmissionTimeout      time.Duration
	SubmissionMaxAttempts  int
	SubmissionBaseDelay    time.Duration
	SubmissionTokenURL     string
	SubmissionClientID     string
	SubmissionClientSecret string
	SubmissionScopes       []string
	// Simulated typing
	TypingDelay time.Duration
	TypingChunk int
	// Sessions
	SessionIdleTTL       time.Duration
	SessionEvictInterval time.Duration
	SessionMaxMessages   int
	// Themes
	DefaultTheme      string
	Themes            []string
	ShowThemeSelector bool
	// Logging
	LogLevel  string
	LogFormat string
	// Relay
	RelayPort            string
	RelayAllowedOrigin   string
	DatabaseURL          string
	RelaySubmissionsFile string
	RelayRatePerMinute   int
	RelayBurst           int
	RelayTrustProxy      bool
	RelayAdminToken      string
	SMTPHost             string
	SMTPPort             string
	SMTPUser             string
	SMTPPass             string
	NotifyTo             []string
}

const (
	minSubmissionTimeout = time.Second
	maxSubmissionTimeout = 60 * time.Second
)

// Load reads .env (if present) and the environment. Unparseable numbers and
// durations fall back to their defaults with a warning; Validate catches
// values that parse but make no sense.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:                   getEnvDefault("PORT", "8080"),
		AllowedOrigin:          getEnvDefault("ALLOWED_ORIGIN", "*"),
		ContentDir:             getEnvDefault("CONTENT_DIR", "content"),
		ContentBaseURL:         os.Getenv("CONTENT_BASE_URL"),
		StaticDir:              os.Getenv("STATIC_DIR"),
		WatchContent:           getEnvBoolDefault("WATCH_CONTENT", false),
		Renderer:               getEnvDefault("RENDERER", "simple"),
		OwnerName:              getEnvDefault("OWNER_NAME", "Roberto"),
		OwnerEmail:             os.Getenv("OWNER_EMAIL"),
		SubmissionEndpoint:     os.Getenv("SUBMISSION_ENDPOINT"),
		SubmissionTimeout:      getEnvDurationDefault("SUBMISSION_TIMEOUT", 30*time.Second),
		SubmissionMaxAttempts:  getEnvIntDefault("SUBMISSION_MAX_ATTEMPTS", 3),
		SubmissionBaseDelay:    getEnvDurationDefault("SUBMISSION_BASE_DELAY", time.Second),
		SubmissionTokenURL:     os.Getenv("SUBMISSION_TOKEN_URL"),
		SubmissionClientID:     os.Getenv("SUBMISSION_CLIENT_ID"),
		SubmissionClientSecret: os.Getenv("SUBMISSION_CLIENT_SECRET"),
		SubmissionScopes:       getEnvListDefault("SUBMISSION_SCOPES", nil),
		TypingDelay:            getEnvDurationDefault("TYPING_DELAY", 15*time.Millisecond),
		TypingChunk:            getEnvIntDefault("TYPING_CHUNK", 3),
		SessionIdleTTL:         getEnvDurationDefault("SESSION_IDLE_TTL", 30*time.Minute),
		SessionEvictInterval:   getEnvDurationDefault("SESSION_EVICT_INTERVAL", time.Minute),
		SessionMaxMessages:     getEnvIntDefault("SESSION_MAX_MESSAGES", 100),
		DefaultTheme:           getEnvDefault("DEFAULT_THEME", "claude"),
		Themes:                 getEnvListDefault("THEMES", []string{"default", "dark", "claude", "colorful", "professional"}),
		ShowThemeSelector:      getEnvBoolDefault("SHOW_THEME_SELECTOR", true),
		LogLevel:               getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:              getEnvDefault("LOG_FORMAT", "console"),
		RelayPort:              getEnvDefault("RELAY_PORT", "8081"),
		RelayAllowedOrigin:     getEnvDefault("RELAY_ALLOWED_ORIGIN", "*"),
		DatabaseURL:            os.Getenv("DB_URL"),
		RelaySubmissionsFile:   os.Getenv("RELAY_SUBMISSIONS_FILE"),
		RelayRatePerMinute:     getEnvIntDefault("RELAY_RATE_PER_MINUTE", 5),
		RelayBurst:             getEnvIntDefault("RELAY_BURST", 3),
		RelayTrustProxy:        getEnvBoolDefault("RELAY_TRUST_PROXY", false),
		RelayAdminToken:        os.Getenv("RELAY_ADMIN_TOKEN"),
		SMTPHost:               os.Getenv("SMTP_HOST"),
		SMTPPort:               getEnvDefault("SMTP_PORT", "587"),
		SMTPUser:               os.Getenv("SMTP_USER"),
		SMTPPass:               os.Getenv("SMTP_PASS"),
		NotifyTo:               getEnvListDefault("NOTIFY_TO", nil),
	}
}

// Validate reports the first setting the chat server cannot run with.
func (c Config) Validate() error {
	if c.SubmissionTimeout < minSubmissionTimeout || c.SubmissionTimeout > maxSubmissionTimeout {
		return errors.Errorf("SUBMISSION_TIMEOUT must be between %s and %s, got %s", minSubmissionTimeout, maxSubmissionTimeout, c.SubmissionTimeout)
	}
	if c.SubmissionMaxAttempts < 1 {
		return errors.Errorf("SUBMISSION_MAX_ATTEMPTS must be at least 1, got %d", c.SubmissionMaxAttempts)
	}
	if c.SubmissionEndpoint != "" && !strings.HasPrefix(c.SubmissionEndpoint, "http://") && !strings.HasPrefix(c.SubmissionEndpoint, "https://") {
		return errors.Errorf("SUBMISSION_ENDPOINT must be an http(s) URL, got %q", c.SubmissionEndpoint)
	}
	if c.TypingChunk < 1 {
		return errors.Errorf("TYPING_CHUNK must be at least 1, got %d", c.TypingChunk)
	}
	if strings.TrimSpace(c.OwnerName) == "" {
		return errors.New("OWNER_NAME must not be empty")
	}
	if len(c.Themes) > 0 && !c.HasTheme(c.DefaultTheme) {
		return errors.Errorf("DEFAULT_THEME %q is not one of THEMES", c.DefaultTheme)
	}
	if c.SubmissionEndpoint == "" {
		log.Warn().Msg("SUBMISSION_ENDPOINT is not set; contact messages cannot be delivered")
	}
	return nil
}

func (c Config) HasTheme(name string) bool {
	for _, t := range c.Themes {
		if t == name {
			return true
		}
	}
	return false
}

// ContentPath resolves a file inside the content directory.
func (c Config) ContentPath(elem ...string) string {
	return filepath.Join(append([]string{c.ContentDir}, elem...)...)
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid integer, using default")
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("1.5s") or bare milliseconds.
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("invalid duration, using default")
	return def
}
