package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "recallloop.db", cfg.DB.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "localhost:8080", cfg.HTTP.Addr)
	assert.Equal(t, 2.5, cfg.Scheduler.InitialEase)
	assert.Equal(t, 1.3, cfg.Scheduler.MinEase)
	assert.Equal(t, 3, cfg.Scheduler.PassingRating)
	assert.Equal(t, 1, cfg.Scheduler.FirstInterval)
	assert.Equal(t, 6, cfg.Scheduler.SecondInterval)
	assert.Equal(t, "repos", cfg.Deck.ReposDir)
	assert.False(t, cfg.Deck.Prune)
	assert.Equal(t, 2, cfg.Stats.Window)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "recallloop.yaml", `
db:
  path: from-file.db
log:
  level: debug
  format: json
scheduler:
  min_ease: 1.5
stats:
  window: 4
`)

	t.Setenv("RECALLLOOP_LOG_LEVEL", "warn")
	t.Setenv("RECALLLOOP_SCHEDULER_PASSING_RATING", "4")
	t.Setenv("RECALLLOOP_STATS_WINDOW", "5")
	t.Setenv("RECALLLOOP_UNKNOWN_SETTING", "ignored")

	fs := parseFlags(t, "--config", path, "--window", "7", "--prune")

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.DB.Path, "file overrides default")
	assert.Equal(t, "json", cfg.Log.Format, "file overrides default")
	assert.Equal(t, 1.5, cfg.Scheduler.MinEase, "file overrides default")
	assert.Equal(t, "warn", cfg.Log.Level, "env overrides file")
	assert.Equal(t, 4, cfg.Scheduler.PassingRating, "env overrides default")
	assert.Equal(t, 7, cfg.Stats.Window, "flag overrides env")
	assert.True(t, cfg.Deck.Prune, "flag overrides default")
	assert.Equal(t, "localhost:8080", cfg.HTTP.Addr, "unset flags keep lower layers")
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "alt.yaml", "http:\n  addr: 0.0.0.0:9000\n")
	t.Setenv("RECALLLOOP_CONFIG", path)

	cfg, err := Load(parseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "RECALLLOOP_DB_PATH=dotenv.db\n")
	t.Cleanup(func() { os.Unsetenv("RECALLLOOP_DB_PATH") })

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "dotenv.db", cfg.DB.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown log level", map[string]string{"RECALLLOOP_LOG_LEVEL": "loud"}},
		{"unknown log format", map[string]string{"RECALLLOOP_LOG_FORMAT": "xml"}},
		{"zero window", map[string]string{"RECALLLOOP_STATS_WINDOW": "0"}},
		{"ease floor below 1.3", map[string]string{"RECALLLOOP_SCHEDULER_MIN_EASE": "1.2"}},
		{"min ease above initial", map[string]string{"RECALLLOOP_SCHEDULER_MIN_EASE": "3.0"}},
		{"passing rating out of range", map[string]string{"RECALLLOOP_SCHEDULER_PASSING_RATING": "6"}},
		{"second interval shorter than first", map[string]string{
			"RECALLLOOP_SCHEDULER_FIRST_INTERVAL":  "3",
			"RECALLLOOP_SCHEDULER_SECOND_INTERVAL": "2",
		}},
		{"bad address", map[string]string{"RECALLLOOP_HTTP_ADDR": "not an address"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(parseFlags(t, "--config", "does-not-exist.yaml"))
	assert.ErrorContains(t, err, "does-not-exist.yaml")
}
