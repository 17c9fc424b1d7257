package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectParamsFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "params.yml")
	require.NoError(t, os.WriteFile(file, []byte("title: Hello\ncount: 3\nflags:\n  admin: true\n"), 0o644))

	params, err := collectParams(file, nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello", params["title"])
	assert.Equal(t, 3, params["count"])
	flags, ok := params["flags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, flags["admin"])
}

func TestCollectParamsSetOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "params.yml")
	require.NoError(t, os.WriteFile(file, []byte("title: FromFile\n"), 0o644))

	params, err := collectParams(file, []string{"title=FromFlag", "count=7", "active=true"})
	require.NoError(t, err)

	assert.Equal(t, "FromFlag", params["title"])
	// --set values keep their YAML scalar types.
	assert.Equal(t, 7, params["count"])
	assert.Equal(t, true, params["active"])
}

func TestCollectParamsInvalidSet(t *testing.T) {
	_, err := collectParams("", []string{"noequals"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key=value")
}

func TestCollectParamsMissingFile(t *testing.T) {
	_, err := collectParams("does-not-exist.yml", nil)
	require.Error(t, err)
}

func TestDiscoverTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pages"), 0o755))
	files := map[string]string{
		"home.vel":         "x",
		"pages/about.vel":  "x",
		"pages/readme.txt": "x",
		"style.css":        "x",
		"layout.vel.html":  "x",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(name)), []byte(content), 0o644))
	}

	names, err := discoverTemplates(dir, []string{".vel", ".vel.html"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"home.vel", "pages/about.vel", "layout.vel.html"}, names)
}

func TestTemplateName(t *testing.T) {
	name, err := templateName("/srv/templates", filepath.Join("/srv/templates", "pages", "home.vel"))
	require.NoError(t, err)
	assert.Equal(t, "pages/home.vel", name)
}
