package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFragments(t *testing.T) {
	r := Default()

	html, err := r.Render("north-arrow", map[string]any{"Angle": -0.5})
	require.NoError(t, err)
	assert.Contains(t, html, `id="north-arrow"`)
	assert.Contains(t, html, "rotate(-0.5rad)")

	html, err = r.Render("map-info", map[string]any{"Coordinates": "N/A", "Zoom": "7.00"})
	require.NoError(t, err)
	assert.Contains(t, html, "N/A")
	assert.Contains(t, html, "Zoom 7.00")

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
	assert.Panics(t, func() { r.MustRender("missing", nil) })
}

func TestDictHelper(t *testing.T) {
	dict := funcMap["dict"].(func(...any) map[string]any)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, dict("a", 1, "b", "x"))
	assert.Nil(t, dict("a"))
}

func TestFromDirAndReload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fragments"), 0o755))
	path := filepath.Join(dir, "fragments", "x.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{define "x"}}one{{end}}`), 0o644))

	r, err := FromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "one", r.MustRender("x", nil))

	require.NoError(t, os.WriteFile(path, []byte(`{{define "x"}}two{{end}}`), 0o644))
	require.NoError(t, r.Reload(os.DirFS(dir)))
	assert.Equal(t, "two", r.MustRender("x", nil))

	_, err = FromDir(t.TempDir())
	assert.Error(t, err)
}
