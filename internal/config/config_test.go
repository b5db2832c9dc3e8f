package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SUBMISSION_TIMEOUT", "")
	t.Setenv("THEMES", "")
	t.Setenv("OWNER_NAME", "")
	t.Setenv("DEFAULT_THEME", "")
	t.Setenv("SUBMISSION_MAX_ATTEMPTS", "")
	t.Setenv("TYPING_CHUNK", "")
	t.Setenv("RELAY_TRUST_PROXY", "")

	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 30*time.Second, cfg.SubmissionTimeout)
	require.Equal(t, 3, cfg.SubmissionMaxAttempts)
	require.Equal(t, "claude", cfg.DefaultTheme)
	require.Equal(t, []string{"default", "dark", "claude", "colorful", "professional"}, cfg.Themes)
	require.Equal(t, "Roberto", cfg.OwnerName)
	require.False(t, cfg.RelayTrustProxy)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SUBMISSION_TIMEOUT", "5000")
	t.Setenv("SUBMISSION_BASE_DELAY", "250ms")
	t.Setenv("SUBMISSION_SCOPES", "contact.write, ,contact.read")
	t.Setenv("WATCH_CONTENT", "yes")
	t.Setenv("TYPING_CHUNK", "not-a-number")
	t.Setenv("THEMES", "dark,light")
	t.Setenv("DEFAULT_THEME", "dark")
	t.Setenv("RELAY_TRUST_PROXY", "true")
	t.Setenv("RELAY_ADMIN_TOKEN", "s3cret")

	cfg := Load()
	require.Equal(t, "9000", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.SubmissionTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.SubmissionBaseDelay)
	require.Equal(t, []string{"contact.write", "contact.read"}, cfg.SubmissionScopes)
	require.True(t, cfg.WatchContent)
	require.Equal(t, 3, cfg.TypingChunk)
	require.True(t, cfg.HasTheme("light"))
	require.True(t, cfg.RelayTrustProxy)
	require.Equal(t, "s3cret", cfg.RelayAdminToken)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			OwnerName:             "Roberto",
			SubmissionTimeout:     10 * time.Second,
			SubmissionMaxAttempts: 3,
			TypingChunk:           1,
			DefaultTheme:          "claude",
			Themes:                []string{"claude"},
		}
	}
	require.NoError(t, base().Validate())

	for name, mutate := range map[string]func(*Config){
		"timeout too short": func(c *Config) { c.SubmissionTimeout = 500 * time.Millisecond },
		"timeout too long":  func(c *Config) { c.SubmissionTimeout = 61 * time.Second },
		"no attempts":       func(c *Config) { c.SubmissionMaxAttempts = 0 },
		"bad endpoint":      func(c *Config) { c.SubmissionEndpoint = "ftp://example.com" },
		"zero chunk":        func(c *Config) { c.TypingChunk = 0 },
		"no owner":          func(c *Config) { c.OwnerName = "  " },
		"unknown theme":     func(c *Config) { c.DefaultTheme = "neon" },
	} {
		c := base()
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}
}

func TestContentPath(t *testing.T) {
	cfg := Config{ContentDir: "site"}
	require.Equal(t, "site/rules/content-rules.json", cfg.ContentPath("rules", "content-rules.json"))
}
