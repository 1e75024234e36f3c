package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audubon_monitor/models"
)

func TestLoadSources_EmbeddedDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.LoadSources(""))

	for _, id := range models.KnownSources {
		src, ok := cfg.Sources[id]
		require.True(t, ok, "missing embedded config for %s", id)
		assert.True(t, src.Enabled, "%s should be enabled by default", id)
		assert.Equal(t, "USD", src.Currency)
		assert.NotEmpty(t, src.Handler)
	}

	assert.True(t, cfg.Sources[models.SourceEbay].NativeIDs())
	assert.False(t, cfg.Sources[models.SourceAntiqueAudubon].NativeIDs())
	assert.Len(t, cfg.Sources[models.SourceAntiqueAudubon].Categories, 2)
	assert.Equal(t, TransportHTTP, cfg.Sources[models.SourcePrinceton].Transport)
	assert.Equal(t, 3*time.Minute, cfg.Sources[models.SourceFirstDibs].Timeout(time.Minute))
	assert.Equal(t, time.Minute, cfg.Sources[models.SourcePrinceton].Timeout(time.Minute))
}

func TestLoadSources_DirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	override := []byte(`id: firstdibs
name: 1stDibs (browser)
handler: firstdibs
transport: browser
enabled: false
endpoints:
  search: https://www.1stdibs.com/search/?q=audubon
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "firstdibs.yaml"), override, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	cfg := &Config{}
	require.NoError(t, cfg.LoadSources(dir))

	fd := cfg.Sources[models.SourceFirstDibs]
	assert.Equal(t, TransportBrowser, fd.Transport)
	assert.False(t, fd.Enabled)
	assert.Equal(t, IdentitySimilarity, fd.Identity, "identity defaults when omitted")
	assert.Len(t, cfg.Sources, len(models.KnownSources))
}

func TestLoadSources_UnknownSourceRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sothebys.yaml"), []byte("id: sothebys\nhandler: shopify\n"), 0644))

	cfg := &Config{}
	assert.Error(t, cfg.LoadSources(dir))
}

func TestLoadSources_MissingDirIsFine(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.LoadSources(filepath.Join(t.TempDir(), "nope")))
	assert.Len(t, cfg.Sources, len(models.KnownSources))
}

func TestEnableDisable(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.LoadSources(""))

	cfg.Enable(SplitList("ebay, princeton,panteek"))
	cfg.Disable([]string{"panteek", "unknown"})

	var got []models.Source
	for _, src := range cfg.EnabledSources() {
		got = append(got, src.ID)
	}
	assert.Equal(t, []models.Source{models.SourcePrinceton, models.SourceEbay}, got, "enabled sources keep canonical order")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OUTPUT_PATH", "/tmp/out.json")
	t.Setenv("SOURCES_DIR", filepath.Join(t.TempDir(), "none"))
	t.Setenv("ADAPTER_TIMEOUT", "45s")
	t.Setenv("SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("RETENTION_DAYS", "30")
	t.Setenv("WORKERS", "not-a-number")
	t.Setenv("SOURCES_DISABLED", "ebay,firstdibs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out.json", cfg.OutputPath)
	assert.Equal(t, 45*time.Second, cfg.AdapterTimeout)
	assert.InDelta(t, 0.9, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention)
	assert.Equal(t, len(models.KnownSources), cfg.Workers, "bad ints fall back to the default")
	assert.False(t, cfg.Sources[models.SourceEbay].Enabled)
	assert.False(t, cfg.Sources[models.SourceFirstDibs].Enabled)
	assert.True(t, cfg.Sources[models.SourcePrinceton].Enabled)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b ,"))
	assert.Nil(t, SplitList(""))
}
