package mesh

import (
	"bufio"
	"bytes"

	"go.uber.org/zap"

	"meshchat/internal/wire"
)

// readLoop drains one link line by line. Decoded messages are enqueued
// without authorship filtering; the injector is the single place
// self-authored content is dropped. On stream end or any read error the
// reader closes its link and removes it from the registry.
func (n *Node) readLoop(link *Link) {
	defer n.wg.Done()
	defer n.teardown(link)

	sc := bufio.NewScanner(link.conn)
	sc.Buffer(make([]byte, 0, 4096), wire.MaxLineSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := wire.Decode(line)
		if err != nil {
			n.metrics.IncDecodeError()
			n.log.Debug("discarding malformed line",
				zap.Uint64("link", link.ID()), zap.Error(err))
			continue
		}
		n.metrics.IncMessageReceived()
		select {
		case n.inbound <- msg:
		default:
			// Queue full: drop the newest rather than block the reader.
			n.metrics.IncQueueDropped()
			n.log.Debug("inbound queue full, dropping message",
				zap.String("from", msg.Agent))
		}
	}
	if err := sc.Err(); err != nil {
		n.log.Debug("link read ended", zap.Uint64("link", link.ID()), zap.Error(err))
	}
}

// teardown is the link's single point of destruction: close the stream,
// remove the link and its port from the registry.
func (n *Node) teardown(link *Link) {
	_ = link.Close()
	n.registry.Remove(link)
	n.metrics.SetLinksLive(n.registry.Len())
	n.log.Debug("link closed", zap.Uint64("link", link.ID()), zap.Int("port", link.Port()))
}
