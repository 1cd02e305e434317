package pmtiles

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), ZxyToID(0, 0, 0))
	assert.Equal(t, uint64(1), ZxyToID(1, 0, 0))
	assert.Equal(t, uint64(2), ZxyToID(1, 0, 1))
	assert.Equal(t, uint64(3), ZxyToID(1, 1, 1))
	assert.Equal(t, uint64(4), ZxyToID(1, 1, 0))
	assert.Equal(t, uint64(5), ZxyToID(2, 0, 0))
	assert.Equal(t, uint64(19078479), ZxyToID(12, 3423, 1763))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          127,
		RootLength:          40,
		MetadataOffset:      167,
		MetadataLength:      12,
		TileDataOffset:      179,
		TileDataLength:      1000,
		AddressedTilesCount: 5,
		TileEntriesCount:    5,
		TileContentsCount:   4,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     NoCompression,
		TileType:            Png,
		MinZoom:             0,
		MaxZoom:             14,
		MinLonE7:            -1800000000,
		MinLatE7:            -850511287,
		MaxLonE7:            1800000000,
		MaxLatE7:            850511287,
		CenterZoom:          7,
		CenterLonE7:         1275000000,
		CenterLatE7:         365000000,
	}
	got, err := DeserializeHeader(SerializeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, [3]float64{127.5, 36.5, 7}, got.Center())
	assert.InDelta(t, -180, got.Bounds()[0], 1e-9)

	_, err = DeserializeHeader([]byte("PMTiles"))
	assert.Error(t, err)
	bad := SerializeHeader(h)
	copy(bad, "XXTiles")
	_, err = DeserializeHeader(bad)
	assert.ErrorIs(t, err, errBadMagic)
}

func TestEntriesRoundTrip(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 1, Offset: 10, Length: 20, RunLength: 2},
		{TileID: 5, Offset: 100, Length: 7, RunLength: 1},
		{TileID: 6, Offset: 0, Length: 3, RunLength: 0},
	}
	for _, c := range []Compression{NoCompression, Gzip} {
		data, err := SerializeEntries(entries, c)
		require.NoError(t, err)
		got, err := DeserializeEntries(data, c)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
	}

	_, err := SerializeEntries(entries, Brotli)
	assert.Error(t, err)
}

func TestFindTile(t *testing.T) {
	entries := []EntryV3{
		{TileID: 1, RunLength: 1},
		{TileID: 3, RunLength: 2},
		{TileID: 10, RunLength: 0},
	}
	_, ok := FindTile(entries, 0)
	assert.False(t, ok)

	e, ok := FindTile(entries, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(3), e.TileID)

	_, ok = FindTile(entries, 5)
	assert.False(t, ok)
	_, ok = FindTile(entries, 2)
	assert.False(t, ok)

	e, ok = FindTile(entries, 500)
	require.True(t, ok, "leaf directory covers everything after it")
	assert.Equal(t, uint32(0), e.RunLength)
}

// buildArchive lays out header, root directory, metadata, leaf directories
// and tile data. With leaves set, the root points to a single leaf holding
// every tile entry.
func buildArchive(t *testing.T, tiles map[uint64][]byte, leaves bool) []byte {
	t.Helper()

	ids := make([]uint64, 0, len(tiles))
	for id := range tiles {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var data bytes.Buffer
	var entries []EntryV3
	for _, id := range ids {
		entries = append(entries, EntryV3{
			TileID:    id,
			Offset:    uint64(data.Len()),
			Length:    uint32(len(tiles[id])),
			RunLength: 1,
		})
		data.Write(tiles[id])
	}

	tileEntries, err := SerializeEntries(entries, Gzip)
	require.NoError(t, err)
	root, leaf := tileEntries, []byte(nil)
	if leaves {
		leaf = tileEntries
		root, err = SerializeEntries([]EntryV3{{TileID: ids[0], Offset: 0, Length: uint32(len(leaf))}}, Gzip)
		require.NoError(t, err)
	}

	raw, err := json.Marshal(map[string]any{"name": "fixture", "attribution": "test"})
	require.NoError(t, err)
	var md bytes.Buffer
	w, err := compressor(&md, Gzip)
	require.NoError(t, err)
	w.Write(raw)
	require.NoError(t, w.Close())

	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		MetadataLength:      uint64(md.Len()),
		LeafDirectoryLength: uint64(len(leaf)),
		TileDataLength:      uint64(data.Len()),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     NoCompression,
		TileType:            Png,
		MaxZoom:             2,
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength

	var out bytes.Buffer
	out.Write(SerializeHeader(h))
	out.Write(root)
	out.Write(md.Bytes())
	out.Write(leaf)
	out.Write(data.Bytes())
	return out.Bytes()
}

func fixtureTiles() map[uint64][]byte {
	return map[uint64][]byte{
		ZxyToID(0, 0, 0): []byte("z0"),
		ZxyToID(1, 0, 0): []byte("z1-0-0"),
		ZxyToID(1, 1, 0): []byte("z1-1-0"),
		ZxyToID(2, 3, 1): []byte("z2-3-1"),
	}
}

func TestArchiveTile(t *testing.T) {
	for _, leaves := range []bool{false, true} {
		a, err := NewArchive(bytes.NewReader(buildArchive(t, fixtureTiles(), leaves)))
		require.NoError(t, err)

		got, err := a.Tile(0, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "z0", string(got))

		got, err = a.Tile(1, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, "z1-1-0", string(got))

		got, err = a.Tile(2, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, "z2-3-1", string(got))

		_, err = a.Tile(1, 0, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = a.Tile(3, 0, 0)
		assert.ErrorIs(t, err, ErrNotFound)

		md, err := a.Metadata()
		require.NoError(t, err)
		assert.Equal(t, "fixture", md["name"])

		assert.Equal(t, Png, a.Header().TileType)
		assert.Equal(t, "image/png", a.Header().TileType.ContentType())
		require.NoError(t, a.Close())
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.pmtiles")
	require.NoError(t, os.WriteFile(path, buildArchive(t, fixtureTiles(), false), 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.Tile(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "z1-0-0", string(got))

	_, err = Open(filepath.Join(t.TempDir(), "missing.pmtiles"))
	assert.Error(t, err)
}
