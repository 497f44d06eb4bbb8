package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_ID":             "12345",
		"API_HASH":           "0123456789abcdef",
		"INVITE_TARGET_CHAT": "@target",
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetEnviron(baseEnv())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, 12345, cfg.Telegram.APIID)
	assert.Equal(t, "inviter", cfg.Telegram.Session)
	assert.Equal(t, 2, cfg.Invite.PerHour)
	assert.Equal(t, 10, cfg.Invite.WindowStart)
	assert.Equal(t, 17, cfg.Invite.WindowEnd)
	assert.Equal(t, DriverSQLite, cfg.Storage.ResolvedDriver())
	assert.True(t, cfg.Storage.AutoMigrateEnabled())
	assert.Equal(t, 60*time.Second, cfg.IdleWait())

	w, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, "UTC", w.Location.String())
	assert.Equal(t, 1800*time.Second, w.Slot())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
invite:
  target_chat: "@from_file"
  per_hour: 5
  window_start: 0
  window_end: 24
  timezone: Europe/Berlin
storage:
  driver: sqlite
  path: ./x.db
logging:
  level: debug
`)
	env := baseEnv()
	delete(env, "INVITE_TARGET_CHAT")
	env["INVITES_PER_HOUR"] = "3"
	env["INVITE_IMMEDIATE_ON_START"] = "true"

	m := NewConfigManager(path)
	m.SetEnviron(env)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "@from_file", cfg.Invite.TargetChat)
	assert.Equal(t, 3, cfg.Invite.PerHour)
	assert.Equal(t, 0, cfg.Invite.WindowStart, "explicit zero in the file beats the default")
	assert.Equal(t, 24, cfg.Invite.WindowEnd)
	assert.True(t, cfg.Invite.ImmediateOnStart)
	assert.Equal(t, "debug", cfg.Logging.Level)

	w, err := cfg.Window()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", w.Location.String())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json", `{"invite": {"per_hour": 2, "speed": 9}}`)
	m := NewConfigManager(path)
	m.SetEnviron(baseEnv())
	_, err := m.Parse()
	assert.Error(t, err)
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "config.json", `{"invite": {}} {"invite": {}}`)
	m := NewConfigManager(path)
	m.SetEnviron(baseEnv())
	_, err := m.Parse()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
		ok   bool
	}{
		{name: "defaults", ok: true},
		{name: "full day", env: map[string]string{"INVITE_WINDOW_START": "0", "INVITE_WINDOW_END": "24"}, ok: true},
		{name: "end before start", env: map[string]string{"INVITE_WINDOW_START": "17", "INVITE_WINDOW_END": "10"}},
		{name: "end equals start", env: map[string]string{"INVITE_WINDOW_START": "10", "INVITE_WINDOW_END": "10"}},
		{name: "end 25", env: map[string]string{"INVITE_WINDOW_END": "25"}},
		{name: "start 24", env: map[string]string{"INVITE_WINDOW_START": "24", "INVITE_WINDOW_END": "24"}},
		{name: "zero quota", env: map[string]string{"INVITES_PER_HOUR": "0"}},
		{name: "quota above slot resolution", env: map[string]string{"INVITES_PER_HOUR": "3601"}},
		{name: "bad timezone", env: map[string]string{"INVITE_TIMEZONE": "Mars/Olympus"}},
		{name: "missing api id", env: map[string]string{"API_ID": "0"}},
		{name: "missing target", env: map[string]string{"INVITE_TARGET_CHAT": ""}},
		{name: "bad idle wait", env: map[string]string{"INVITE_IDLE_WAIT": "soon"}},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "mongo"}},
		{name: "postgres without host", env: map[string]string{"STORAGE_DRIVER": "postgres"}},
		{name: "postgres url", env: map[string]string{"DATABASE_URL": "postgres://u@db/x"}, ok: true},
		{name: "bad outcome filter", env: map[string]string{"NOTIFY_OUTCOME_KINDS": "invited,banned"}},
		{name: "outcome filter", env: map[string]string{"NOTIFY_OUTCOME_KINDS": "invited,peer_flood"}, ok: true},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := baseEnv()
			for k, v := range tt.env {
				env[k] = v
			}
			m := NewConfigManager("")
			m.SetEnviron(env)
			_, err := m.Load()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStorageResolvedDSN(t *testing.T) {
	t.Parallel()
	s := StorageConfig{Host: "db", Port: 5433, Database: "invites", User: "bot", Password: "p@ss word", SSLMode: "require"}
	assert.Equal(t, DriverPostgres, s.ResolvedDriver())
	assert.Equal(t, "postgres://bot:p%40ss%20word@db:5433/invites?sslmode=require", s.ResolvedDSN())

	s = StorageConfig{DSN: "postgres://explicit/x"}
	assert.Equal(t, "postgres://explicit/x", s.ResolvedDSN())
	assert.Equal(t, "", StorageConfig{}.ResolvedDSN())
	assert.Equal(t, DriverSQLite, StorageConfig{Driver: "sqlite3"}.ResolvedDriver())
}

func TestLogxConfigRequiresBot(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Logging.Telegram.Enabled = true
	assert.False(t, cfg.LogxConfig().Telegram.Enabled)

	cfg.Bot = BotConfig{Token: "t", NotifyChatID: -100, ThreadID: 7}
	lc := cfg.LogxConfig()
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(-100), lc.Telegram.ChatID)
	assert.Equal(t, 7, lc.Telegram.ThreadID)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Bot.Token = "secret"

	changed, attrs, restart := SummarizeConfigChange(&a, &b)
	assert.Equal(t, []string{"logging", "bot"}, changed)
	assert.Equal(t, []string{"bot"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, _ = SummarizeConfigChange(&a, &a)
	assert.Empty(t, changed)
}

// Not parallel: godotenv writes the process environment.
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	key := "INVITER_DOTENV_PROBE_" + strconv.Itoa(os.Getpid())
	writeFile(t, dir, ".env", key+"=found\n")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	assert.Equal(t, filepath.Join(dir, ".env"), LoadDotEnv(nested))
	assert.Equal(t, "found", os.Getenv(key))
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"logging": {"level": "info"}}`)
	m := NewConfigManager(path)
	m.SetEnviron(baseEnv())
	_, err := m.Load()
	require.NoError(t, err)

	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-updates:
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.Equal(t, "debug", m.Get().Logging.Level)
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep touching the file.
			writeFile(t, dir, "config.json", `{"logging": {"level": "debug"}}`)
		case <-deadline:
			t.Fatal("no config update published")
		}
	}
}

func TestWatchIgnoresInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{}`)
	m := NewConfigManager(path)
	m.SetEnviron(baseEnv())
	_, err := m.Load()
	require.NoError(t, err)

	writeFile(t, dir, "config.json", `{"invite": {"per_hour": 0}}`)
	assert.False(t, m.reload(context.Background()))
	assert.Equal(t, 2, m.Get().Invite.PerHour)

	writeFile(t, dir, "config.json", `{"invite": {"per_hour": 4}}`)
	assert.True(t, m.reload(context.Background()))
	assert.Equal(t, 4, m.Get().Invite.PerHour)
}
