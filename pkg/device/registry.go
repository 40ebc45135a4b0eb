package device

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry owns the channels of every simulated device, keyed by device
// identifier. Channels are created on first reference and removed only by
// an explicit Remove.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	channels map[string]*Channel
	handles  map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:      cfg,
		channels: make(map[string]*Channel),
		handles:  make(map[string]*Handle),
	}
}

// Open returns the channel for id, creating it if needed.
func (r *Registry) Open(id string) *Channel {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		return ch
	}
	ch = newChannel(id, r.cfg)
	r.channels[id] = ch
	if r.cfg.Logger != nil {
		r.cfg.Logger.Debug("device channel created", slog.String("device", id))
	}
	return ch
}

// Exists reports whether a channel for id has been created.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[id]
	return ok
}

// Lookup returns the channel for id without creating it.
func (r *Registry) Lookup(id string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Snapshot returns the channels present now, ordered by identifier.
func (r *Registry) Snapshot() []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Channel) int {
		return strings.Compare(a.id, b.id)
	})
	return out
}

// ForEach calls fn for every channel in a point-in-time snapshot. fn may
// open new channels; they are not visited.
func (r *Registry) ForEach(fn func(*Channel)) {
	for _, ch := range r.Snapshot() {
		fn(ch)
	}
}

// Remove drops the channel for id and interrupts its waiters. It reports
// whether a channel was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	ch, ok := r.channels[id]
	delete(r.channels, id)
	delete(r.handles, id)
	r.mu.Unlock()

	if ok {
		ch.RequestInterrupt()
	}
	return ok
}

// OpenDevice returns the open handle for id, creating the channel and
// handle as needed.
func (r *Registry) OpenDevice(id string) *Handle {
	ch := r.Open(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h
	}
	h := newHandle(ch, r)
	r.handles[id] = h
	return h
}

// OpenDevices returns the identifiers of open handles, sorted.
func (r *Registry) OpenDevices() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) releaseHandle(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.ID()] == h {
		delete(r.handles, h.ID())
	}
}
