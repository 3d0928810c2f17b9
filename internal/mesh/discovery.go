package mesh

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// discover scans the port window around the node's own port and dials every
// offset not already linked. At most one scan runs at a time; a scan that
// finds the guard held simply yields to the one in flight. Dial timeouts and
// refusals are expected on unoccupied ports and stay silent below debug.
func (n *Node) discover(ctx context.Context) {
	if !n.scanMu.TryLock() {
		return
	}
	defer n.scanMu.Unlock()
	n.metrics.IncScan()

	for off := -n.cfg.Window; off <= n.cfg.Window; off++ {
		if off == 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		port := n.cfg.Port + off
		if port <= 0 || port > 65535 {
			continue
		}
		if n.registry.HasPort(port) {
			continue
		}
		n.connect(ctx, port)
	}
}

// connect attempts one outbound link. A failure never aborts the scan; the
// link is inserted into the registry before its reader starts, the same
// ordering the accept path uses.
func (n *Node) connect(ctx context.Context, port int) {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(port))
	n.metrics.IncConnectAttempt()
	d := net.Dialer{Timeout: n.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		n.log.Debug("dial skipped", zap.String("addr", addr), zap.Error(err))
		return
	}
	link, ok := n.registry.Add(conn, port)
	if !ok {
		// Lost the race against an accept or a concurrent connect for the
		// same port; the existing link wins.
		_ = conn.Close()
		return
	}
	n.metrics.IncConnectSuccess()
	n.metrics.SetLinksLive(n.registry.Len())
	n.log.Debug("link dialed", zap.Uint64("link", link.ID()), zap.Int("port", port))
	n.wg.Add(1)
	go n.readLoop(link)
}
