package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
library:
  dirs: [/srv/zim, /media/usb]
  catalog_url: http://localhost:8080
favicon:
  max_concurrent: 2
  attempt_timeout: 3s
query:
  locale: sv
  default_sort_key: size
reader:
  command: /opt/kiwix/kiwix-desktop
  args: [--fullscreen]
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/zim", "/media/usb"}, cfg.Library.Dirs)
	assert.Equal(t, "http://localhost:8080", cfg.Library.CatalogURL)
	assert.Equal(t, 2, cfg.Favicon.MaxConcurrent)
	assert.Equal(t, 3*time.Second, cfg.Favicon.AttemptTimeout)
	assert.Equal(t, "sv", cfg.Query.Locale)
	assert.Equal(t, "size", cfg.Query.DefaultSortKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/opt/kiwix/kiwix-desktop", cfg.Reader.Command)
	assert.Equal(t, []string{"--fullscreen"}, cfg.Reader.Args)

	// Untouched keys keep their defaults
	def := DefaultConfig()
	assert.Equal(t, def.Favicon.MaxAttempts, cfg.Favicon.MaxAttempts)
	assert.Equal(t, def.Search.RecentCap, cfg.Search.RecentCap)
	assert.True(t, cfg.Favicon.AutoFetch)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "query:\n  locale: de\n")
	t.Setenv("ZIMSHELF_QUERY_LOCALE", "fr")
	t.Setenv("ZIMSHELF_SEARCH_RECENT_CAP", "25")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "fr", cfg.Query.Locale)
	assert.Equal(t, 25, cfg.Search.RecentCap)
}

func TestLoadConfig_RejectsUnknownSortKey(t *testing.T) {
	path := writeConfig(t, "query:\n  default_sort_key: popularity\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeConfig(t, "library:\n  data_dir: ~/zimdata\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "zimdata"), cfg.Library.DataDir)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Library.Dirs = []string{"/data/zim"}
	cfg.Favicon.MaxBackoff = 42 * time.Second
	cfg.Query.SizeAscending = true
	require.NoError(t, SaveConfig(cfg, path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/zim"}, got.Library.Dirs)
	assert.Equal(t, 42*time.Second, got.Favicon.MaxBackoff)
	assert.True(t, got.Query.SizeAscending)
}

func TestQueryConfig_DefaultAscending(t *testing.T) {
	q := DefaultConfig().Query
	assert.True(t, q.DefaultAscending(domain.SortByTitle))
	assert.False(t, q.DefaultAscending(domain.SortBySize))
	assert.True(t, q.DefaultAscending(domain.SortByDate))
}
