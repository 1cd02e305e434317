package pmtiles

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// EntryV3 is an entry in a PMTiles v3 directory. A zero RunLength points at a
// leaf directory instead of tile data.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case NoCompression:
		return nopCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	}
	return nil, fmt.Errorf("pmtiles: compression %d not supported", c)
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression, UnknownCompression:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("pmtiles: gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("pmtiles: compression %d not supported", c)
}

// SerializeEntries encodes a directory: the entry count, then delta-coded
// tile ids, run lengths, lengths and offsets as columns of uvarints.
func SerializeEntries(entries []EntryV3, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	w, err := compressor(&buf, c)
	if err != nil {
		return nil, err
	}
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		w.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	var last uint64
	for _, e := range entries {
		put(e.TileID - last)
		last = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		// 0 means "directly after the previous entry".
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeEntries decodes a directory written by SerializeEntries.
func DeserializeEntries(data []byte, c Compression) ([]EntryV3, error) {
	raw, err := decompress(data, c)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(bytes.NewReader(raw))
	next := func() (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("pmtiles: corrupt directory: %w", err)
		}
		return v, nil
	}

	n, err := next()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(raw)) {
		return nil, fmt.Errorf("pmtiles: corrupt directory: %d entries in %d bytes", n, len(raw))
	}
	entries := make([]EntryV3, n)

	var last uint64
	for i := range entries {
		d, err := next()
		if err != nil {
			return nil, err
		}
		last += d
		entries[i].TileID = last
	}
	for i := range entries {
		v, err := next()
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := next()
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := next()
		if err != nil {
			return nil, err
		}
		if i > 0 && v == 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// FindTile finds the entry covering id in a sorted directory. The result is
// either a tile run containing id or a leaf directory that may contain it.
func FindTile(entries []EntryV3, id uint64) (EntryV3, bool) {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case id > entries[mid].TileID:
			lo = mid + 1
		case id < entries[mid].TileID:
			hi = mid - 1
		default:
			return entries[mid], true
		}
	}
	// hi is now the last entry below id.
	if hi >= 0 {
		e := entries[hi]
		if e.RunLength == 0 || id-e.TileID < uint64(e.RunLength) {
			return e, true
		}
	}
	return EntryV3{}, false
}
