package mesh

import (
	"net"
	"sync"
	"time"
)

// linkWriteTimeout bounds a single write so one stalled peer cannot hold the
// broadcast sweep indefinitely.
const linkWriteTimeout = 2 * time.Second

// Link is one established duplex connection to a peer. The registry owns the
// link for its lifetime; the reader goroutine holds a non-owning reference
// while it drains the stream.
type Link struct {
	id   uint64
	conn net.Conn
	// port is the peer's mesh listen port when the link was dialed outbound,
	// 0 for accepted links whose remote mesh port is unknown.
	port int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ID returns the registry-assigned link identifier.
func (l *Link) ID() uint64 { return l.id }

// Port returns the remote mesh port, 0 when unknown.
func (l *Link) Port() int { return l.port }

// RemoteAddr reports the peer's transport address.
func (l *Link) RemoteAddr() net.Addr { return l.conn.RemoteAddr() }

// Write sends raw bytes on the link. Writes are serialized so concurrent
// broadcasts cannot interleave partial lines on the stream.
func (l *Link) Write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(linkWriteTimeout))
	_, err := l.conn.Write(data)
	_ = l.conn.SetWriteDeadline(time.Time{})
	return err
}

// Close shuts the underlying connection down exactly once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
