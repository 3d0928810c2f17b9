package mesh

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"go.uber.org/zap"
)

// startListener binds the node's own host:port and starts the accept loop.
// Address-in-use means another instance already owns the port; the node
// continues in client-only mode and still discovers peers.
func (n *Node) startListener() error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			n.log.Info("port in use, running client-only", zap.String("addr", addr))
			return nil
		}
		n.log.Error("listener bind failed", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	n.listener = ln
	n.listenerUp.Store(true)
	n.log.Info("listening", zap.String("addr", ln.Addr().String()))
	n.wg.Add(1)
	go n.acceptLoop(ln)
	return nil
}

func (n *Node) closeListener() {
	if n.listener == nil {
		return
	}
	n.listenerUp.Store(false)
	_ = n.listener.Close()
}

// acceptLoop inserts each accepted connection into the registry before its
// reader starts, so a discovery scan racing the accept observes the link.
func (n *Node) acceptLoop(ln net.Listener) {
	defer n.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		n.metrics.IncAccept()
		link, ok := n.registry.Add(conn, 0)
		if !ok {
			_ = conn.Close()
			continue
		}
		n.metrics.SetLinksLive(n.registry.Len())
		n.log.Debug("link accepted",
			zap.Uint64("link", link.ID()),
			zap.String("remote", conn.RemoteAddr().String()))
		n.wg.Add(1)
		go n.readLoop(link)
	}
}
