package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "commentbot/pkg/logx"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults {
		t.Setenv(strings.ToUpper(k), "")
	}
}

func load(t *testing.T, opts Options) *Config {
	t.Helper()
	if opts.DotEnv == "" {
		opts.DotEnv = filepath.Join(t.TempDir(), "missing.env")
	}
	cfg, err := Load(opts)
	require.NoError(t, err)
	return cfg
}

func TestIsTruthy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"1", "true", "TRUE", " yes ", "On", "YES"} {
		assert.True(t, IsTruthy(s), s)
	}
	for _, s := range []string{"", "0", "false", "no", "off", "y", "2"} {
		assert.False(t, IsTruthy(s), s)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := load(t, Options{})

	assert.Equal(t, DefaultAPIBase, cfg.CanvasAPIBase)
	assert.Equal(t, DefaultTokenFile, cfg.CanvasTokenFile)
	assert.Equal(t, DefaultGroupsFile, cfg.GroupsFile)
	assert.Equal(t, DefaultStateFile, cfg.StateFile)
	assert.Equal(t, "file", cfg.StateDriver)
	assert.Equal(t, "baseline", cfg.FirstRunBehavior)
	assert.Equal(t, SinkTeams, cfg.Sink)
	assert.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	assert.False(t, cfg.DryRun)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CANVAS_API_BASE", "  ")
	t.Setenv("CANVAS_COURSE_ID", "12345")
	t.Setenv("CANVAS_TOKEN", " secret ")
	t.Setenv("TEAMS_WEBHOOK_URL", "https://example.webhook.office.com/hook")
	t.Setenv("FIRST_RUN_BEHAVIOR", " Deliver ")
	t.Setenv("DRY_RUN", "YES")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("WEBHOOK_RATE_PER_SEC", "0.5")

	cfg := load(t, Options{})
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ResolveToken())

	assert.Equal(t, DefaultAPIBase, cfg.CanvasAPIBase)
	assert.Equal(t, int64(12345), cfg.CourseID)
	assert.Equal(t, "secret", cfg.CanvasToken)
	assert.Equal(t, "deliver", cfg.FirstRunBehavior)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.InDelta(t, 0.5, cfg.WebhookRatePerSec, 1e-9)
}

func TestLoadDotEnvAndConfigFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is already set, even to "".
	require.NoError(t, os.Unsetenv("CANVAS_COURSE_ID"))
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("CANVAS_COURSE_ID=77\n"), 0o600))
	file := filepath.Join(dir, "commentbot.yaml")
	require.NoError(t, os.WriteFile(file, []byte("canvas_course_id: 11\nstate_driver: sqlite\nteams_webhook_url: https://hooks.example/x\n"), 0o600))

	cfg := load(t, Options{File: file, DotEnv: dotenv})
	assert.Equal(t, int64(77), cfg.CourseID, "environment wins over the file")
	assert.Equal(t, "sqlite", cfg.StateDriver)
	assert.Equal(t, "https://hooks.example/x", cfg.TeamsWebhookURL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		clearEnv(t)
		t.Setenv("CANVAS_COURSE_ID", "1")
		t.Setenv("TEAMS_WEBHOOK_URL", "https://hooks.example/x")
		return load(t, Options{})
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.TeamsWebhookURL = ""
	assert.EqualError(t, cfg.Validate(), "missing required environment variable: TEAMS_WEBHOOK_URL")

	cfg = base()
	cfg.CourseID = 0
	assert.ErrorContains(t, cfg.Validate(), "CANVAS_COURSE_ID")

	cfg = base()
	cfg.StateDriver = "redis"
	assert.ErrorContains(t, cfg.Validate(), "STATE_DRIVER must be one of")

	cfg = base()
	cfg.TeamsWebhookURL = "not-a-url"
	assert.ErrorContains(t, cfg.Validate(), "TEAMS_WEBHOOK_URL must be an absolute URL")

	cfg = base()
	cfg.Sink = SinkTelegram
	assert.ErrorContains(t, cfg.Validate(), "TELEGRAM_TOKEN")
	cfg.TelegramToken = "123:abc"
	cfg.TelegramChatID = -100
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "soon")
	_, err := Load(Options{DotEnv: filepath.Join(t.TempDir(), "none")})
	assert.ErrorContains(t, err, "HTTP_TIMEOUT")
}

func TestResolveTokenFromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("  tok-123\n"), 0o600))

	cfg := &Config{CanvasTokenFile: path}
	require.NoError(t, cfg.ResolveToken())
	assert.Equal(t, "tok-123", cfg.CanvasToken)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	assert.EqualError(t, (&Config{CanvasTokenFile: empty}).ResolveToken(), "canvas token is empty")

	err := (&Config{CanvasTokenFile: filepath.Join(dir, "missing")}).ResolveToken()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("X", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("X", "90s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationOrDefault("X", "-1s", time.Minute)
	assert.Error(t, err)
}

func TestWatchReportsChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "student_groups.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, []string{path}, logx.Nop(), func(p string) {
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		// Keep touching the file until the watcher is up and reports it. The
		// tick is longer than the debounce so a callback can fire in between.
		_ = os.WriteFile(path, []byte(`{"1":"A"}`), 0o600)
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 500*time.Millisecond)

	cancel()
	<-done
	mu.Lock()
	assert.Equal(t, path, got[0])
	mu.Unlock()
}
