package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewer/internal/pmtiles"
)

type upstream struct {
	*httptest.Server
	hits    atomic.Int32
	agents  sync.Map
	release chan struct{}
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.agents.Store(r.Header.Get("User-Agent"), true)
		if u.release != nil {
			<-u.release
		}
		if strings.HasPrefix(r.URL.Path, "/0/") {
			http.NotFound(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/9/") {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "tile:%s", r.URL.Path)
	}))
	t.Cleanup(u.Close)
	return u
}

func newService(t *testing.T, u *upstream, cacheBytes int64) *TileService {
	t.Helper()
	s, err := NewTileService(TileServiceOptions{
		Source:     u.URL + "/{z}/{x}/{y}.png",
		CacheBytes: cacheBytes,
		UserAgent:  "viewer-test",
	})
	require.NoError(t, err)
	return s
}

func TestTileServiceFetchAndCache(t *testing.T) {
	u := newUpstream(t)
	s := newService(t, u, 1<<20)
	ctx := context.Background()

	tile, err := s.Get(ctx, maptile.New(3, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "tile:/2/3/2.png", string(tile.Data))
	assert.Equal(t, "image/png", tile.ContentType)

	_, err = s.Get(ctx, maptile.New(3, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, int32(1), u.hits.Load())

	_, ok := u.agents.Load("viewer-test")
	assert.True(t, ok)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, "1.0 MiB", stats.Limit)
}

func TestTileServiceErrors(t *testing.T) {
	u := newUpstream(t)
	s := newService(t, u, 1<<20)
	ctx := context.Background()

	_, err := s.Get(ctx, maptile.New(0, 0, 0))
	assert.ErrorIs(t, err, ErrTileNotFound)

	_, err = s.Get(ctx, maptile.New(4, 0, 2))
	assert.ErrorIs(t, err, ErrTileNotFound, "x out of range for zoom")

	_, err = s.Get(ctx, maptile.New(1, 1, 9))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTileNotFound)
	assert.Contains(t, err.Error(), "502")

	assert.Zero(t, s.Stats().Entries)
}

func TestTileServiceRejectsOversizeTile(t *testing.T) {
	u := newUpstream(t)
	s, err := NewTileService(TileServiceOptions{
		Source:       u.URL + "/{z}/{x}/{y}.png",
		CacheBytes:   1 << 20,
		MaxTileBytes: int64(len("tile:/2/3/2.png")),
	})
	require.NoError(t, err)
	ctx := context.Background()

	tile, err := s.Get(ctx, maptile.New(3, 2, 2))
	require.NoError(t, err, "exactly at the limit")
	assert.Equal(t, "tile:/2/3/2.png", string(tile.Data))

	_, err = s.Get(ctx, maptile.New(3, 12, 4))
	assert.ErrorIs(t, err, ErrTileTooLarge)
	assert.Equal(t, 1, s.Stats().Entries, "oversize tiles are not cached")
}

func TestTileServiceEvictsLeastRecent(t *testing.T) {
	u := newUpstream(t)
	// "tile:/1/0/0.png" is 15 bytes; room for two.
	s := newService(t, u, 30)
	ctx := context.Background()

	for _, tl := range []maptile.Tile{maptile.New(0, 0, 1), maptile.New(1, 0, 1)} {
		_, err := s.Get(ctx, tl)
		require.NoError(t, err)
	}
	_, err := s.Get(ctx, maptile.New(0, 0, 1)) // refresh
	require.NoError(t, err)
	_, err = s.Get(ctx, maptile.New(0, 1, 1)) // evicts 1/1/0
	require.NoError(t, err)

	assert.Equal(t, 2, s.Stats().Entries)
	assert.LessOrEqual(t, s.Stats().Bytes, int64(30))

	before := u.hits.Load()
	_, err = s.Get(ctx, maptile.New(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, before, u.hits.Load())

	_, err = s.Get(ctx, maptile.New(1, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, before+1, u.hits.Load())
}

func TestTileServiceSharesConcurrentFetches(t *testing.T) {
	u := newUpstream(t)
	u.release = make(chan struct{})
	s := newService(t, u, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Get(context.Background(), maptile.New(1, 1, 2))
			assert.NoError(t, err)
		}()
	}
	assert.Eventually(t, func() bool { return u.hits.Load() == 1 }, time.Second, time.Millisecond)
	close(u.release)
	wg.Wait()

	assert.LessOrEqual(t, u.hits.Load(), int32(8))
	assert.Zero(t, s.Stats().Entries, "cache disabled")
}

func TestTileServiceMissingArchive(t *testing.T) {
	_, err := NewTileService(TileServiceOptions{
		Source: ArchiveScheme + filepath.Join(t.TempDir(), "none.pmtiles"),
	})
	assert.Error(t, err)
}

func TestTileServiceArchiveSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.pmtiles")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = pmtiles.Write(f, map[maptile.Tile][]byte{
		maptile.New(0, 0, 0): []byte("jpeg-0"),
		maptile.New(1, 0, 1): []byte("jpeg-1"),
	}, pmtiles.WriteOptions{TileType: pmtiles.Jpeg})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err := NewTileService(TileServiceOptions{Source: ArchiveScheme + path, CacheBytes: 1 << 10})
	require.NoError(t, err)
	defer s.Close()

	h, ok := s.Archive()
	require.True(t, ok)
	assert.Equal(t, uint8(1), h.MaxZoom)

	tile, err := s.Get(context.Background(), maptile.New(1, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, Tile{Data: []byte("jpeg-1"), ContentType: "image/jpeg"}, tile)

	_, err = s.Get(context.Background(), maptile.New(1, 1, 1))
	assert.ErrorIs(t, err, ErrTileNotFound)
}
