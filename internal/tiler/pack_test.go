package tiler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewer/internal/pmtiles"
)

func tree() fstest.MapFS {
	return fstest.MapFS{
		"0/0/0.png":   {Data: []byte("root")},
		"1/0/0.png":   {Data: []byte("nw")},
		"1/1/0.png":   {Data: []byte("ne")},
		"1/1/1.PNG":   {Data: []byte("se")},
		"README.md":   {Data: []byte("ignored")},
		"1/0/x.png":   {Data: []byte("ignored")},
		"1/5/0.png":   {Data: []byte("out of range")},
		"2/0/0/0.png": {Data: []byte("too deep")},
	}
}

func TestScan(t *testing.T) {
	tiles, tt, err := Scan(context.Background(), tree())
	require.NoError(t, err)
	assert.Equal(t, pmtiles.Png, tt)
	assert.Len(t, tiles, 4)
	assert.Equal(t, "se", string(tiles[maptile.New(1, 1, 1)]))

	mixed := tree()
	mixed["1/0/1.jpg"] = &fstest.MapFile{Data: []byte("jpeg")}
	_, _, err = Scan(context.Background(), mixed)
	assert.ErrorContains(t, err, "mixed tile formats")

	_, _, err = Scan(context.Background(), fstest.MapFS{"a.txt": {}})
	assert.ErrorIs(t, err, pmtiles.ErrNoTiles)
}

func TestPack(t *testing.T) {
	var steps []int
	var buf bytes.Buffer
	res, err := Pack(context.Background(), tree(), &buf, PackOptions{
		Name:       "fixture",
		OnProgress: func(p int, _ string) { steps = append(steps, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Tiles: 4, Contents: 4, MinZoom: 0, MaxZoom: 1, Bytes: int64(buf.Len()), TileType: pmtiles.Png}, res)
	assert.Equal(t, []int{10, 50, 100}, steps)

	a, err := pmtiles.NewArchive(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	got, err := a.Tile(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "ne", string(got))
	md, err := a.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "fixture", md["name"])
	assert.Equal(t, "png", md["format"])
}

func TestPackCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Pack(ctx, tree(), &bytes.Buffer{}, PackOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPackDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "3", "4"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "3", "4", "2.webp"), []byte("webp"), 0o644))

	out := filepath.Join(t.TempDir(), "nested", "tiles")
	res, err := PackDir(context.Background(), src, out, PackOptions{})
	require.NoError(t, err)
	assert.Equal(t, pmtiles.Webp, res.TileType)

	a, err := pmtiles.Open(out + ".pmtiles")
	require.NoError(t, err)
	defer a.Close()
	got, err := a.Tile(3, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "webp", string(got))

	_, err = PackDir(context.Background(), filepath.Join(src, "missing"), out, PackOptions{})
	assert.Error(t, err)

	empty := t.TempDir()
	bad := filepath.Join(t.TempDir(), "empty.pmtiles")
	_, err = PackDir(context.Background(), empty, bad, PackOptions{})
	assert.ErrorIs(t, err, pmtiles.ErrNoTiles)
	assert.NoFileExists(t, bad)
}
