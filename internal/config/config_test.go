package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 500, c.Chunking.Size)
	assert.Equal(t, 50, c.Chunking.Overlap)
	assert.Equal(t, 768, c.Embedding.Dimension)
	assert.Equal(t, "127.0.0.1:8787", c.Server.Addr)
}

func TestLoadPartialFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
indexing:
  workers: 4
  retry_delay: 5s
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, 4, c.Indexing.Workers)
	assert.Equal(t, 5*time.Second, c.Indexing.RetryDelay)
	// Untouched sections keep their defaults.
	assert.Equal(t, "nomic-embed-text", c.Ollama.EmbedModel)
	assert.Equal(t, 500, c.Chunking.Size)
}

func TestLoadRejectsBadChunking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunking:
  size: 100
  overlap: 100
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ferret.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
