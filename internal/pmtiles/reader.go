package pmtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// maxDirectoryDepth bounds leaf directory recursion.
const maxDirectoryDepth = 4

// ErrNotFound is returned for tiles the archive does not contain.
var ErrNotFound = errors.New("pmtiles: tile not found")

// Archive is an open PMTiles v3 archive.
type Archive struct {
	r      io.ReaderAt
	closer io.Closer
	header HeaderV3
	root   []EntryV3

	mu     sync.Mutex
	leaves map[uint64][]EntryV3 // keyed by leaf offset
}

// Open opens the archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a, err := NewArchive(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// NewArchive reads the header and root directory from r.
func NewArchive(r io.ReaderAt) (*Archive, error) {
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := DeserializeHeader(buf)
	if err != nil {
		return nil, err
	}
	a := &Archive{r: r, header: h, leaves: map[uint64][]EntryV3{}}
	a.root, err = a.readDirectory(h.RootOffset, h.RootLength)
	if err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	return a, nil
}

// Header returns the archive header.
func (a *Archive) Header() HeaderV3 { return a.header }

// Metadata returns the decoded JSON metadata.
func (a *Archive) Metadata() (map[string]any, error) {
	raw, err := a.readRange(a.header.MetadataOffset, a.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	data, err := decompress(raw, a.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	md := map[string]any{}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	return md, nil
}

// Tile returns the decompressed contents of tile z/x/y, or ErrNotFound.
func (a *Archive) Tile(z uint8, x, y uint32) ([]byte, error) {
	if z < a.header.MinZoom || z > a.header.MaxZoom {
		return nil, ErrNotFound
	}
	id := ZxyToID(z, x, y)

	entries := a.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		e, ok := FindTile(entries, id)
		if !ok {
			return nil, ErrNotFound
		}
		if e.RunLength > 0 {
			raw, err := a.readRange(a.header.TileDataOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return nil, err
			}
			return decompress(raw, a.header.TileCompression)
		}
		next, err := a.leaf(e)
		if err != nil {
			return nil, err
		}
		entries = next
	}
	return nil, ErrNotFound
}

func (a *Archive) leaf(e EntryV3) ([]EntryV3, error) {
	off := a.header.LeafDirectoryOffset + e.Offset
	a.mu.Lock()
	cached, ok := a.leaves[off]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}
	entries, err := a.readDirectory(off, uint64(e.Length))
	if err != nil {
		return nil, fmt.Errorf("leaf directory: %w", err)
	}
	a.mu.Lock()
	a.leaves[off] = entries
	a.mu.Unlock()
	return entries, nil
}

func (a *Archive) readDirectory(off, length uint64) ([]EntryV3, error) {
	raw, err := a.readRange(off, length)
	if err != nil {
		return nil, err
	}
	return DeserializeEntries(raw, a.header.InternalCompression)
}

func (a *Archive) readRange(off, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := a.r.ReadAt(buf, int64(off))
	if n == len(buf) {
		return buf, nil
	}
	return nil, fmt.Errorf("read %d bytes at %d: %w", length, off, err)
}

// Close releases the underlying file, if Open created it.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
