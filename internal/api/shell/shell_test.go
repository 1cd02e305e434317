package shell

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/viewer"
)

func newTestServer(t *testing.T, proxy bool) (*httptest.Server, *Handler) {
	t.Helper()
	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("viewer test", "1.0.0"))
	h := NewHandler(Options{
		Config:        mapconfig.Default(),
		ProxyTiles:    proxy,
		FrameInterval: 5 * time.Millisecond,
		NewID:         func() string { return "sid-1" },
	})
	h.RegisterRoutes(api)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

// stream reads an SSE response in the background.
type stream struct {
	mu   sync.Mutex
	buf  strings.Builder
	done chan struct{}
}

func (s *stream) contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Contains(s.buf.String(), sub)
}

func openStream(t *testing.T, srv *httptest.Server, sid string) (*stream, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q := url.Values{"datastar": {`{"width":512,"height":384}`}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/viewer/"+sid+"/stream?"+q.Encode(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	s := &stream{done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for sc.Scan() {
			s.mu.Lock()
			s.buf.WriteString(sc.Text())
			s.buf.WriteByte('\n')
			s.mu.Unlock()
		}
	}()
	t.Cleanup(cancel)
	return s, cancel
}

func TestPageLinksSessionRoutes(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/viewer")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	html := string(body)
	assert.Contains(t, html, "/viewer/sid-1/stream")
	assert.Contains(t, html, `id="map-container"`)
	assert.Contains(t, html, `title="Zoom in"`)
	assert.Contains(t, html, `title="Fullscreen"`)
	assert.Contains(t, html, "N/A")
	assert.Contains(t, html, "Zoom 7.00")
	assert.Contains(t, html, "OpenStreetMap")
}

func TestCommandForUnknownSessionIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := post(t, srv, "/viewer/nobody/zoom-in", `{}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = post(t, srv, "/viewer/nobody/layers/toggle", ``)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCommandRejectsMalformedSignals(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := post(t, srv, "/viewer/nobody/wheel", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamMountsAndUnmounts(t *testing.T) {
	srv, h := newTestServer(t, false)
	st, cancel := openStream(t, srv, "s1")

	var s *viewer.Session
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = h.Registry().Get("s1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Container.Mounted())

	require.Eventually(t, func() bool { return st.contains(`id="map-layers"`) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, st.contains("tile.openstreetmap.org"))
	assert.True(t, st.contains(`id="north-arrow"`))

	resp := post(t, srv, "/viewer/s1/zoom-in", `{}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool { return s.Container.State().Zoom == 8 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return st.contains("Zoom 8.00") }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-st.done
	require.Eventually(t, func() bool { return h.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Container.Mounted())
}

func TestStreamRejectsSecondTab(t *testing.T) {
	srv, h := newTestServer(t, false)
	openStream(t, srv, "s4")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	first, _ := h.Registry().Get("s4")

	second, _ := openStream(t, srv, "s4")
	<-second.done
	assert.True(t, second.contains("already open in another tab"))

	got, ok := h.Registry().Get("s4")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.True(t, first.Container.Mounted())
}

func TestStreamLayerToggle(t *testing.T) {
	srv, h := newTestServer(t, false)
	openStream(t, srv, "s2")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	s, _ := h.Registry().Get("s2")

	post(t, srv, "/viewer/s2/layers/open", `{}`)
	require.Eventually(t, s.Layers.IsOpen, time.Second, 5*time.Millisecond)

	post(t, srv, "/viewer/s2/layers/toggle", `{"layer":"`+viewer.BaseLayerID+`"}`)
	require.Eventually(t, func() bool {
		return !s.Container.State().Layers[0].Visible
	}, time.Second, 5*time.Millisecond)

	post(t, srv, "/viewer/s2/layers/toggle", `{"layer":"`+viewer.BaseLayerID+`"}`)
	assert.True(t, s.Container.State().Layers[0].Visible)
}

func TestStreamFullscreenRoundTrip(t *testing.T) {
	srv, h := newTestServer(t, false)
	st, _ := openStream(t, srv, "s3")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	s, _ := h.Registry().Get("s3")

	post(t, srv, "/viewer/s3/fullscreen/toggle", `{}`)
	require.Eventually(t, func() bool { return st.contains("viewerRequestFullscreen") }, 2*time.Second, 5*time.Millisecond)

	post(t, srv, "/viewer/s3/fullscreen/change", `{"element":"map-container"}`)
	assert.True(t, s.Fullscreen.IsFullscreen())
	assert.Equal(t, "map-container", s.Doc.FullscreenElement())
	require.Eventually(t, func() bool { return st.contains("Exit fullscreen") }, 2*time.Second, 5*time.Millisecond)

	post(t, srv, "/viewer/s3/fullscreen/change", `{"element":""}`)
	assert.False(t, s.Fullscreen.IsFullscreen())
}

func TestNewMapViewUsesProxy(t *testing.T) {
	f := engine.Frame{
		Rotation: 0.25,
		Layers: []engine.LayerFrame{{
			Opacity: 1,
			Tiles: []engine.TilePlacement{
				{Tile: maptile.New(3, 2, 4), URL: "https://a.example/4/3/2.png", Left: -10, Top: 20, Size: 256},
				{Tile: maptile.New(1, 1, 1), URL: "", Size: 256},
			},
		}},
	}

	direct := newMapView(f, false)
	require.Len(t, direct.Layers, 1)
	assert.Equal(t, 0.25, direct.Rotation)
	assert.Equal(t, "https://a.example/4/3/2.png", direct.Layers[0].Tiles[0].Src)
	assert.Equal(t, "/tiles/1/1/1", direct.Layers[0].Tiles[1].Src, "sources without URLs go through the proxy")

	proxied := newMapView(f, true)
	assert.Equal(t, "/tiles/4/3/2", proxied.Layers[0].Tiles[0].Src)
	assert.Equal(t, -10.0, proxied.Layers[0].Tiles[0].Left)
}
