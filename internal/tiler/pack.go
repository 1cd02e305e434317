// Package tiler packs raster tile trees into PMTiles archives so a viewer
// can serve them from a single file through a pmtiles:// source.
package tiler

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/pmtiles"
)

// maxZoom is the deepest zoom a packed tree may contain.
const maxZoom = 22

// ProgressFunc is called with progress updates while packing.
type ProgressFunc func(progress int, status string)

// PackOptions contains options for packing a tile tree.
type PackOptions struct {
	Name        string
	Attribution string
	OnProgress  ProgressFunc
	Logger      *zap.Logger
}

// Result summarises a written archive.
type Result struct {
	Tiles    int
	Contents int
	MinZoom  int
	MaxZoom  int
	Bytes    int64
	TileType pmtiles.TileType
}

var tileTypes = map[string]pmtiles.TileType{
	".png":  pmtiles.Png,
	".jpg":  pmtiles.Jpeg,
	".jpeg": pmtiles.Jpeg,
	".webp": pmtiles.Webp,
	".avif": pmtiles.Avif,
}

// Scan reads every z/x/y.ext tile under fsys. All tiles must share one
// format; other files are ignored.
func Scan(ctx context.Context, fsys fs.FS) (map[maptile.Tile][]byte, pmtiles.TileType, error) {
	tiles := map[maptile.Tile][]byte{}
	tileType := pmtiles.UnknownTileType
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		t, tt, ok := parseTilePath(p)
		if !ok {
			return nil
		}
		if tileType != pmtiles.UnknownTileType && tt != tileType {
			return fmt.Errorf("%s: mixed tile formats (%s and %s)", p, tileType.Ext(), tt.Ext())
		}
		tileType = tt
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		tiles[t] = data
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if len(tiles) == 0 {
		return nil, 0, pmtiles.ErrNoTiles
	}
	return tiles, tileType, nil
}

// parseTilePath recognises "z/x/y.ext" with coordinates valid for z.
func parseTilePath(p string) (maptile.Tile, pmtiles.TileType, bool) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 {
		return maptile.Tile{}, 0, false
	}
	ext := strings.ToLower(path.Ext(parts[2]))
	tt, ok := tileTypes[ext]
	if !ok {
		return maptile.Tile{}, 0, false
	}
	z, errZ := strconv.ParseUint(parts[0], 10, 8)
	x, errX := strconv.ParseUint(parts[1], 10, 32)
	y, errY := strconv.ParseUint(strings.TrimSuffix(parts[2], path.Ext(parts[2])), 10, 32)
	if errZ != nil || errX != nil || errY != nil || z > maxZoom {
		return maptile.Tile{}, 0, false
	}
	if n := uint64(1) << z; x >= n || y >= n {
		return maptile.Tile{}, 0, false
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), tt, true
}

// Pack writes the tile tree in fsys as an archive to w.
func Pack(ctx context.Context, fsys fs.FS, w io.Writer, opts PackOptions) (Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	progress := func(p int, status string) {
		if opts.OnProgress != nil {
			opts.OnProgress(p, status)
		}
	}

	progress(10, "Scanning tiles...")
	tiles, tileType, err := Scan(ctx, fsys)
	if err != nil {
		return Result{}, err
	}
	log.Debug("scanned tile tree", zap.Int("tiles", len(tiles)), zap.String("format", tileType.Ext()))

	progress(50, fmt.Sprintf("Writing %d tiles...", len(tiles)))
	md := map[string]any{"format": tileType.Ext(), "type": "baselayer"}
	if opts.Name != "" {
		md["name"] = opts.Name
	}
	if opts.Attribution != "" {
		md["attribution"] = opts.Attribution
	}
	cw := &countingWriter{w: w}
	h, err := pmtiles.Write(cw, tiles, pmtiles.WriteOptions{TileType: tileType, Metadata: md})
	if err != nil {
		return Result{}, err
	}

	progress(100, "Archive written")
	return Result{
		Tiles:    int(h.AddressedTilesCount),
		Contents: int(h.TileContentsCount),
		MinZoom:  int(h.MinZoom),
		MaxZoom:  int(h.MaxZoom),
		Bytes:    cw.n,
		TileType: tileType,
	}, nil
}

// PackDir packs the tree rooted at srcDir into the archive file out,
// adding the .pmtiles extension when missing.
func PackDir(ctx context.Context, srcDir, out string, opts PackOptions) (Result, error) {
	if info, err := os.Stat(srcDir); err != nil {
		return Result{}, fmt.Errorf("tile directory: %w", err)
	} else if !info.IsDir() {
		return Result{}, fmt.Errorf("tile directory: %s is not a directory", srcDir)
	}
	if !strings.HasSuffix(out, ".pmtiles") {
		out += ".pmtiles"
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return Result{}, err
	}
	res, err := Pack(ctx, os.DirFS(srcDir), f, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return Result{}, err
	}
	return res, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
