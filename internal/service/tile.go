package service

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/metrics"
	"github.com/joeblew999/plat-viewer/internal/pmtiles"
)

const (
	// ArchiveScheme prefixes tile sources that are local PMTiles archives.
	ArchiveScheme = "pmtiles://"

	defaultUserAgent = "plat-viewer/1.0"
	fetchTimeout     = 15 * time.Second
	maxTileBytes     = 8 << 20
)

// TileServiceOptions configures a TileService.
type TileServiceOptions struct {
	// Source is an XYZ URL template or pmtiles://<path>.
	Source     string
	TileSize   int
	CacheBytes int64
	Client     *http.Client
	UserAgent  string
	Logger     *zap.Logger

	// MaxTileBytes rejects larger upstream responses. Defaults to 8 MiB.
	MaxTileBytes int64
}

// TileService serves tiles of the configured source through a byte-bounded
// LRU cache. Concurrent misses for one tile share a single fetch.
type TileService struct {
	source  string
	xyz     *engine.XYZ
	archive *pmtiles.Archive
	client  *http.Client
	ua      string
	maxSize int64
	log     *zap.Logger

	group  singleflight.Group
	cache  *tileCache
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewTileService creates a tile service. Archive sources are opened here.
func NewTileService(opts TileServiceOptions) (*TileService, error) {
	s := &TileService{
		source:  opts.Source,
		client:  opts.Client,
		ua:      opts.UserAgent,
		maxSize: opts.MaxTileBytes,
		log:     opts.Logger,
		cache:   newTileCache(opts.CacheBytes),
	}
	if s.maxSize <= 0 {
		s.maxSize = maxTileBytes
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.ua == "" {
		s.ua = defaultUserAgent
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("tiles")

	if path, ok := strings.CutPrefix(opts.Source, ArchiveScheme); ok {
		a, err := pmtiles.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tile source: %w", err)
		}
		s.archive = a
	} else {
		s.xyz = engine.NewXYZ(opts.Source, opts.TileSize)
	}
	return s, nil
}

// Source returns the configured source.
func (s *TileService) Source() string { return s.source }

// Archive returns the archive header when the source is a PMTiles archive.
func (s *TileService) Archive() (pmtiles.HeaderV3, bool) {
	if s.archive == nil {
		return pmtiles.HeaderV3{}, false
	}
	return s.archive.Header(), true
}

// Get returns tile t, from the cache when possible.
func (s *TileService) Get(ctx context.Context, t maptile.Tile) (Tile, error) {
	if t.Z > 30 || t.X >= 1<<uint32(t.Z) || t.Y >= 1<<uint32(t.Z) {
		metrics.TileRequests.WithLabelValues("not_found").Inc()
		return Tile{}, ErrTileNotFound
	}
	key := fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
	if tile, ok := s.cache.get(key); ok {
		s.hits.Add(1)
		metrics.TileRequests.WithLabelValues("hit").Inc()
		return tile, nil
	}
	s.misses.Add(1)

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Shared by every waiter, so the first caller's cancellation must
		// not abort it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		start := time.Now()
		tile, err := s.fetch(fctx, t)
		metrics.TileFetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return Tile{}, err
		}
		s.cache.put(key, tile)
		metrics.TileCacheBytes.Set(float64(s.cache.bytes()))
		return tile, nil
	})
	switch {
	case errors.Is(err, ErrTileNotFound):
		metrics.TileRequests.WithLabelValues("not_found").Inc()
		return Tile{}, err
	case err != nil:
		metrics.TileRequests.WithLabelValues("error").Inc()
		s.log.Warn("tile fetch failed", zap.String("tile", key), zap.Error(err))
		return Tile{}, err
	}
	metrics.TileRequests.WithLabelValues("miss").Inc()
	return v.(Tile), nil
}

func (s *TileService) fetch(ctx context.Context, t maptile.Tile) (Tile, error) {
	if s.archive != nil {
		data, err := s.archive.Tile(uint8(t.Z), t.X, t.Y)
		if errors.Is(err, pmtiles.ErrNotFound) {
			return Tile{}, ErrTileNotFound
		}
		if err != nil {
			return Tile{}, err
		}
		return Tile{Data: data, ContentType: s.archive.Header().TileType.ContentType()}, nil
	}

	url := s.xyz.TileURL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Tile{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	resp, err := s.client.Do(req)
	if err != nil {
		return Tile{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return Tile{}, ErrTileNotFound
	case resp.StatusCode != http.StatusOK:
		return Tile{}, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxSize+1))
	if err != nil {
		return Tile{}, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > s.maxSize {
		return Tile{}, fmt.Errorf("fetch %s: %w", url, ErrTileTooLarge)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return Tile{Data: data, ContentType: ct}, nil
}

// Stats reports cache usage.
func (s *TileService) Stats() CacheStats {
	entries, size := s.cache.usage()
	return CacheStats{
		Entries:    entries,
		Bytes:      size,
		LimitBytes: s.cache.limit,
		Size:       humanize.IBytes(uint64(size)),
		Limit:      humanize.IBytes(uint64(max(s.cache.limit, 0))),
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
	}
}

// Close releases the archive, if any.
func (s *TileService) Close() error {
	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}

// tileCache is an LRU keyed by tile address and bounded by total bytes. A
// limit of zero or less disables caching.
type tileCache struct {
	limit int64

	mu    sync.Mutex
	size  int64
	order *list.List // front is most recent
	items map[string]*list.Element
}

type cacheEntry struct {
	key  string
	tile Tile
}

func newTileCache(limit int64) *tileCache {
	return &tileCache{limit: limit, order: list.New(), items: map[string]*list.Element{}}
}

func (c *tileCache) get(key string) (Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Tile{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).tile, true
}

func (c *tileCache) put(key string, t Tile) {
	n := int64(len(t.Data))
	if c.limit <= 0 || n > c.limit {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.size -= int64(len(el.Value.(*cacheEntry).tile.Data))
		el.Value.(*cacheEntry).tile = t
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(&cacheEntry{key: key, tile: t})
	}
	c.size += n
	for c.size > c.limit {
		el := c.order.Back()
		e := el.Value.(*cacheEntry)
		c.order.Remove(el)
		delete(c.items, e.key)
		c.size -= int64(len(e.tile.Data))
	}
}

func (c *tileCache) usage() (int, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.size
}

func (c *tileCache) bytes() int64 {
	_, n := c.usage()
	return n
}
