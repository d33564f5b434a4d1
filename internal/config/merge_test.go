package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/mktcache/internal/config"
)

// newDefaultTarget returns a Config with known non-zero values so tests can
// verify that absent overlay keys leave the original values intact.
func newDefaultTarget() *config.Config {
	return &config.Config{
		Version: config.CurrentVersion,
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Calendar: config.CalendarConfig{
			Timezone:        "Asia/Shanghai",
			Sessions:        []config.SessionConfig{{Open: "09:30", Close: "11:30"}},
			Holidays:        []string{"2023-10-02"},
			MaxLookbackDays: 30,
		},
		Cache: config.CacheConfig{
			StoreFile: "/base/saved.json",
			DataDir:   "/base/data",
			Debounce:  "5s",
		},
		Datasets: []config.DatasetConfig{
			{Name: "existing", URL: "https://example.com/a.csv"},
		},
	}
}

// writeOverlay is a test helper that writes YAML content to a temp file
// and returns its path.
func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestShallowMergeYAML_SingleKeyOverride(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
logging:
  level: debug
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.Equal(t, "debug", target.Logging.Level)
	// the section is replaced whole, not merged field by field
	assert.Empty(t, target.Logging.Format)
	assert.Equal(t, "/base/saved.json", target.Cache.StoreFile)
	assert.Len(t, target.Datasets, 1)
}

func TestShallowMergeYAML_ReplacesDatasets(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
datasets:
  - name: one
    url: https://example.com/1.csv
  - name: two
    url: https://example.com/2.csv
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	require.Len(t, target.Datasets, 2)
	assert.Equal(t, "one", target.Datasets[0].Name)
	_, ok := target.FindDataset("existing")
	assert.False(t, ok)
}

func TestShallowMergeYAML_CalendarSection(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
calendar:
  timezone: Asia/Hong_Kong
  sessions:
    - open: "09:30"
      close: "12:00"
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.Equal(t, "Asia/Hong_Kong", target.Calendar.Timezone)
	assert.Empty(t, target.Calendar.Holidays)
	assert.Equal(t, "12:00", target.Calendar.Sessions[0].Close)
}

func TestShallowMergeYAML_IgnoresUnknownAndVersion(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, `
version: "9.9.9"
something_else: true
cache:
  store_file: /overlay/saved.json
  debounce: 1s
`)

	require.NoError(t, config.ShallowMergeYAML(target, overlay))

	assert.Equal(t, config.CurrentVersion, target.Version)
	assert.Equal(t, "/overlay/saved.json", target.Cache.StoreFile)
	assert.Empty(t, target.Cache.DataDir)
}

func TestShallowMergeYAML_EmptyFile(t *testing.T) {
	target := newDefaultTarget()
	overlay := writeOverlay(t, "# nothing here\n")

	require.NoError(t, config.ShallowMergeYAML(target, overlay))
	assert.Equal(t, newDefaultTarget(), target)
}

func TestShallowMergeYAML_Errors(t *testing.T) {
	t.Run("nil target", func(t *testing.T) {
		require.Error(t, config.ShallowMergeYAML(nil, "x.yaml"))
	})

	t.Run("missing file", func(t *testing.T) {
		err := config.ShallowMergeYAML(newDefaultTarget(), filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading overlay file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		err := config.ShallowMergeYAML(newDefaultTarget(), writeOverlay(t, "logging: [oops"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing overlay YAML")
	})

	t.Run("wrong section shape", func(t *testing.T) {
		err := config.ShallowMergeYAML(newDefaultTarget(), writeOverlay(t, "datasets: {name: x}"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `applying overlay section "datasets"`)
	})
}
