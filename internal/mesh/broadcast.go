package mesh

import (
	"go.uber.org/zap"

	"meshchat/internal/wire"
)

// broadcast is the async entry point, invoked on the loop goroutine. The
// message is encoded once and written to every live link independently; a
// failed write never blocks delivery to the rest. Failed links are collected
// during the sweep and removed after it, so the registry is not mutated
// while being iterated. Returns true iff at least one link took the message.
func (n *Node) broadcast(text string) bool {
	links := n.registry.Links()
	if len(links) == 0 {
		n.metrics.IncBroadcastEmpty()
		return false
	}
	data, err := wire.Encode(wire.New(n.agent, text))
	if err != nil {
		n.log.Warn("broadcast encode failed", zap.Error(err))
		return false
	}

	delivered := 0
	var failed []*Link
	for _, link := range links {
		if err := link.Write(data); err != nil {
			n.log.Debug("broadcast write failed",
				zap.Uint64("link", link.ID()), zap.Error(err))
			failed = append(failed, link)
			continue
		}
		delivered++
	}
	for _, link := range failed {
		// Closing wakes the owning reader, which finishes the teardown;
		// removing here keeps the next broadcast from retrying a dead link.
		_ = link.Close()
		n.registry.Remove(link)
		n.metrics.IncLinkPruned()
	}
	if len(failed) > 0 {
		n.metrics.SetLinksLive(n.registry.Len())
	}
	if delivered > 0 {
		n.metrics.IncBroadcast()
		n.log.Debug("broadcast delivered",
			zap.Int("links", delivered), zap.Int("pruned", len(failed)))
		return true
	}
	n.metrics.IncBroadcastEmpty()
	return false
}
