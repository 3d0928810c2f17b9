package mesh

import (
	"net"
	"sync"
)

// Registry is the node's authoritative record of live links and the remote
// ports a link already exists for. Links are keyed by a monotonically
// assigned ID and removed by that key, so two links never alias each other.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	links  map[uint64]*Link
	ports  map[int]uint64
	// closed is terminal: a scan finishing after shutdown must not be able
	// to re-insert a link.
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		links: make(map[uint64]*Link),
		ports: make(map[int]uint64),
	}
}

// Add inserts a link for conn. For outbound links port is the peer's mesh
// port; insertion fails (ok=false) when a link for that port already exists,
// which keeps the one-link-per-remote-port invariant. Accepted links pass
// port 0 and are always inserted.
func (r *Registry) Add(conn net.Conn, port int) (*Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if port > 0 {
		if _, exists := r.ports[port]; exists {
			return nil, false
		}
	}
	r.nextID++
	l := &Link{id: r.nextID, conn: conn, port: port}
	r.links[l.id] = l
	if port > 0 {
		r.ports[port] = l.id
	}
	return l, true
}

// Remove deletes l (and its port reservation, if any) from the registry.
// Removing a link that is already gone is a no-op.
func (r *Registry) Remove(l *Link) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[l.id]; !ok {
		return
	}
	delete(r.links, l.id)
	if l.port > 0 {
		if id, ok := r.ports[l.port]; ok && id == l.id {
			delete(r.ports, l.port)
		}
	}
}

// HasPort reports whether a link to the given remote port exists.
func (r *Registry) HasPort(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[port]
	return ok
}

// Links returns a snapshot of the live links, safe to iterate while readers
// add and remove concurrently.
func (r *Registry) Links() []*Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

// Len returns the number of live links.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

// Ports returns the connected remote ports, for tests and status output.
func (r *Registry) Ports() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.ports))
	for p := range r.ports {
		out = append(out, p)
	}
	return out
}

// CloseAll closes every link, empties the registry, and refuses any further
// insertion.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	links := make([]*Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.links = make(map[uint64]*Link)
	r.ports = make(map[int]uint64)
	r.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}
