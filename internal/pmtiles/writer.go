package pmtiles

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// maxRootBytes is the budget for header plus root directory, so a reader
// gets both with a single 16 KiB request.
const maxRootBytes = 16384

// ErrNoTiles is returned when there is nothing to write.
var ErrNoTiles = errors.New("pmtiles: no tiles to write")

// WriteOptions describe the archive being written.
type WriteOptions struct {
	TileType TileType
	// TileCompression records how the tile bytes are already encoded.
	// Raster formats use NoCompression.
	TileCompression Compression
	Metadata        map[string]any
}

// Write encodes tiles as a clustered archive: header, root directory,
// metadata, leaf directories, tile data. Identical tile contents are
// stored once and consecutive ids with the same contents share a run.
func Write(w io.Writer, tiles map[maptile.Tile][]byte, opts WriteOptions) (HeaderV3, error) {
	if len(tiles) == 0 {
		return HeaderV3{}, ErrNoTiles
	}
	if opts.TileCompression == UnknownCompression {
		opts.TileCompression = NoCompression
	}

	type tileEntry struct {
		id   uint64
		data []byte
	}
	sorted := make([]tileEntry, 0, len(tiles))
	bound := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	minZoom, maxZoom := maptile.Zoom(255), maptile.Zoom(0)
	for t, data := range tiles {
		sorted = append(sorted, tileEntry{id: ZxyToID(uint8(t.Z), t.X, t.Y), data: data})
		minZoom, maxZoom = min(minZoom, t.Z), max(maxZoom, t.Z)
		bound = bound.Union(t.Bound())
	}
	slices.SortFunc(sorted, func(a, b tileEntry) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	var data bytes.Buffer
	offsets := map[string]uint64{}
	var entries []EntryV3
	for _, te := range sorted {
		off, seen := offsets[string(te.data)]
		if !seen {
			off = uint64(data.Len())
			offsets[string(te.data)] = off
			data.Write(te.data)
		}
		if n := len(entries); n > 0 {
			last := &entries[n-1]
			if seen && last.Offset == off && last.TileID+uint64(last.RunLength) == te.id {
				last.RunLength++
				continue
			}
		}
		entries = append(entries, EntryV3{TileID: te.id, Offset: off, Length: uint32(len(te.data)), RunLength: 1})
	}

	root, leaves, err := buildDirectories(entries)
	if err != nil {
		return HeaderV3{}, err
	}

	md := opts.Metadata
	if md == nil {
		md = map[string]any{}
	}
	metadata, err := serializeMetadata(md)
	if err != nil {
		return HeaderV3{}, err
	}

	center := bound.Center()
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		MetadataLength:      uint64(len(metadata)),
		LeafDirectoryLength: uint64(len(leaves)),
		TileDataLength:      uint64(data.Len()),
		AddressedTilesCount: uint64(len(sorted)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(offsets)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     opts.TileCompression,
		TileType:            opts.TileType,
		MinZoom:             uint8(minZoom),
		MaxZoom:             uint8(maxZoom),
		MinLonE7:            e7(bound.Min.Lon()),
		MinLatE7:            e7(bound.Min.Lat()),
		MaxLonE7:            e7(bound.Max.Lon()),
		MaxLatE7:            e7(bound.Max.Lat()),
		CenterZoom:          uint8(minZoom),
		CenterLonE7:         e7(center.Lon()),
		CenterLatE7:         e7(center.Lat()),
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength

	for _, part := range [][]byte{SerializeHeader(h), root, metadata, leaves, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return HeaderV3{}, fmt.Errorf("write archive: %w", err)
		}
	}
	return h, nil
}

// buildDirectories returns a root directory that fits the initial request,
// splitting entries into leaf directories when it would not.
func buildDirectories(entries []EntryV3) (root, leaves []byte, err error) {
	root, err = SerializeEntries(entries, Gzip)
	if err != nil {
		return nil, nil, err
	}
	if len(root)+HeaderV3LenBytes <= maxRootBytes {
		return root, nil, nil
	}

	for leafSize := 4096; ; leafSize *= 2 {
		var buf bytes.Buffer
		var rootEntries []EntryV3
		for chunk := range slices.Chunk(entries, leafSize) {
			leaf, err := SerializeEntries(chunk, Gzip)
			if err != nil {
				return nil, nil, err
			}
			rootEntries = append(rootEntries, EntryV3{
				TileID: chunk[0].TileID,
				Offset: uint64(buf.Len()),
				Length: uint32(len(leaf)),
			})
			buf.Write(leaf)
		}
		root, err = SerializeEntries(rootEntries, Gzip)
		if err != nil {
			return nil, nil, err
		}
		if len(root)+HeaderV3LenBytes <= maxRootBytes {
			return root, buf.Bytes(), nil
		}
	}
}

func serializeMetadata(md map[string]any) ([]byte, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	var buf bytes.Buffer
	w, err := compressor(&buf, Gzip)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func e7(deg float64) int32 { return int32(deg * 1e7) }
