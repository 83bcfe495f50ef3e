package urlcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "url_cache.json"))
	require.NoError(t, err)
	_, ok := c.Get("https://example.com")
	require.False(t, ok)
}

func TestSetPersistsAndReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "url_cache.json")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Set("https://example.com", "a page about examples"))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok := reopened.Get("https://example.com")
	require.True(t, ok)
	require.Equal(t, "a page about examples", v)
}
