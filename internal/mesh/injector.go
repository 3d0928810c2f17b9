package mesh

import (
	"fmt"
)

// drainInbound empties the inbound queue without blocking and forwards each
// message authored by another agent to the consumer. Self-authored messages
// (looped-back links, redundant delivery) are dropped here and nowhere else,
// so redundant links keep at-least-once semantics upstream.
func (n *Node) drainInbound() {
	for {
		select {
		case msg := <-n.inbound:
			if msg.Agent == n.agent {
				n.metrics.IncSelfDropped()
				continue
			}
			n.consumer.AddContext(fmt.Sprintf("%s said: %s", msg.Agent, msg.Message), ContextSource)
			n.metrics.IncInjected()
		default:
			return
		}
	}
}
