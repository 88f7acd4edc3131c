package records

import (
	"context"
	"sync"
)

// DefaultWatchBuffer is the per-subscriber channel capacity.
const DefaultWatchBuffer = 64

// hub fans changes out to per-path subscribers. Publish never blocks: when a
// subscriber's buffer is full the change is dropped and the subscriber is
// marked lagged; its next delivery is a ChangeResync.
type hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*subscriber]struct{}
}

type subscriber struct {
	path   Path
	ch     chan Change
	lagged bool
}

func newHub(buffer int) *hub {
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	return &hub{buffer: buffer, subs: make(map[string]map[*subscriber]struct{})}
}

// subscribe registers a subscriber and unregisters it when ctx is done. The
// returned channel is closed on unregister.
func (h *hub) subscribe(ctx context.Context, path Path) <-chan Change {
	sub := &subscriber{path: path, ch: make(chan Change, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[path.String()]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[path.String()] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[path.String()]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, path.String())
			}
		}
		close(sub.ch)
	}()
	return sub.ch
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[c.Key.Path.String()] {
		if sub.lagged {
			if sub.sendResync(); sub.lagged {
				continue
			}
		}
		select {
		case sub.ch <- c:
		default:
			sub.lagged = true
		}
	}
}

// resync tells every subscriber of path to re-list.
func (h *hub) resync(path Path) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[path.String()] {
		sub.sendResync()
	}
}

// resyncAll is used after a lost upstream connection.
func (h *hub) resyncAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			sub.sendResync()
		}
	}
}

func (s *subscriber) sendResync() {
	select {
	case s.ch <- Change{Type: ChangeResync, Key: Key{Path: s.path}}:
		s.lagged = false
	default:
		s.lagged = true
	}
}

// watching reports whether anyone subscribes to path.
func (h *hub) watching(path Path) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[path.String()]) > 0
}
