package viewer

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-viewer/internal/engine"
	"github.com/joeblew999/plat-viewer/internal/host"
	"github.com/joeblew999/plat-viewer/internal/mapconfig"
	"github.com/joeblew999/plat-viewer/internal/metrics"
	"github.com/joeblew999/plat-viewer/internal/service"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Logger        *zap.Logger
	FrameInterval time.Duration
	Now           func() time.Time
}

// Session is one connected page: its document, container and widgets. It is
// the container's render target and the document's bridge to the page.
type Session struct {
	ID         string
	Doc        *host.Document
	Container  *Container
	Zoom       ZoomControl
	Fullscreen *FullscreenControl
	Layers     *LayerControl

	bus *service.EventBus

	mu         sync.Mutex
	frame      engine.Frame
	frameDirty bool
	scripts    []string
}

// NewSession wires a session for cfg. Nothing runs until Mount.
func NewSession(id string, cfg mapconfig.Config, opts SessionOptions) *Session {
	s := &Session{ID: id, bus: service.NewEventBus()}
	s.Doc = host.NewDocument(s)
	s.Container = NewContainer(cfg, s.Doc, ContainerOptions{
		Session:       id,
		Logger:        opts.Logger,
		Bus:           s.bus,
		FrameInterval: opts.FrameInterval,
		Now:           opts.Now,
	})
	s.Zoom = ZoomControl{
		OnZoomIn:  s.Container.ZoomIn,
		OnZoomOut: s.Container.ZoomOut,
		OnHome:    s.Container.Home,
	}
	s.Fullscreen = NewFullscreenControl(s.Doc, s.Container.ToggleFullscreen, func() {
		s.publish(service.ChangeFullscreen)
	})
	s.Layers = NewLayerControl(s.Container.ToggleLayer)
	return s
}

// Mount subscribes the widgets and mounts the container at size.
func (s *Session) Mount(size engine.Size) {
	s.Fullscreen.Mount()
	s.Container.Mount(s, size)
}

// Unmount releases every subscription and detaches the engine and document.
func (s *Session) Unmount() {
	s.Fullscreen.Unmount()
	s.Container.Unmount()
	s.Doc.Detach()
}

// Render implements engine.Target. Only the latest frame is kept.
func (s *Session) Render(f engine.Frame) {
	s.mu.Lock()
	s.frame, s.frameDirty = f, true
	s.mu.Unlock()
	s.publish(service.ChangeFrame)
}

// TakeFrame returns the latest frame if it has not been taken yet.
func (s *Session) TakeFrame() (engine.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frameDirty {
		return engine.Frame{}, false
	}
	s.frameDirty = false
	return s.frame, true
}

// Run implements host.Bridge by queueing script for the page.
func (s *Session) Run(script string) {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	s.mu.Unlock()
	s.publish(service.ChangeScript)
}

// DrainScripts returns and clears the queued scripts.
func (s *Session) DrainScripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.scripts
	s.scripts = nil
	return out
}

// ToggleLayerMenu opens or closes the layer menu.
func (s *Session) ToggleLayerMenu() {
	s.Layers.ToggleOpen()
	s.publish(service.ChangeLayers)
}

// Subscribe returns a subscription to this session's changes.
func (s *Session) Subscribe() *service.Subscription { return s.bus.Subscribe() }

// Unsubscribe releases a subscription returned by Subscribe.
func (s *Session) Unsubscribe(sub *service.Subscription) { s.bus.Unsubscribe(sub) }

func (s *Session) publish(kind string) {
	s.bus.Publish(service.Event{Session: s.ID, Kind: kind})
}

// Registry tracks mounted sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Add registers s, replacing any session with the same id.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsMounted.Set(float64(n))
}

// AddIfAbsent registers s unless a session with its id is already present.
// It reports whether s was added.
func (r *Registry) AddIfAbsent(s *Session) bool {
	r.mu.Lock()
	if _, taken := r.sessions[s.ID]; taken {
		r.mu.Unlock()
		return false
	}
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsMounted.Set(float64(n))
	return true
}

// Remove unregisters s if it is still the session registered under its id.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsMounted.Set(float64(n))
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
