// Package mesh implements a broker-less broadcast mesh for co-located agent
// processes: a TCP listener, port-window peer discovery, per-link readers,
// a fan-out broadcaster, and the injector that hands inbound messages to the
// surrounding agent's context consumer.
package mesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meshchat/internal/config"
	"meshchat/internal/metrics"
	"meshchat/internal/wire"
)

// Consumer receives processed inbound text. The surrounding agent's thought
// buffer implements this; the node calls it once per forwarded message.
type Consumer interface {
	AddContext(text, source string)
}

// ContextSource tags everything the injector forwards.
const ContextSource = "meshchat"

type broadcastReq struct {
	text  string
	reply chan bool
}

// Node ties the mesh components together and owns their shared state. A node
// is started once with Initialize followed by Run and is not restartable.
type Node struct {
	cfg      config.MeshConfig
	agent    string
	log      *zap.Logger
	metrics  *metrics.Metrics
	registry *Registry
	consumer Consumer

	inbound  chan wire.Message
	requests chan broadcastReq

	// scanMu serializes discovery scans; TryLock makes an overlapping scan a
	// no-op instead of a queued duplicate.
	scanMu sync.Mutex

	listener   net.Listener
	listenerUp atomic.Bool
	running    atomic.Bool
	loopDone   chan struct{}
	startedAt  time.Time

	wg sync.WaitGroup
}

// NewNode builds a node for the given agent identity. consumer must not be
// nil; log and m may be nil, which disables logging and metrics.
func NewNode(agent string, cfg config.MeshConfig, consumer Consumer, log *zap.Logger, m *metrics.Metrics) (*Node, error) {
	if agent == "" {
		return nil, fmt.Errorf("missing agent name")
	}
	if consumer == nil {
		return nil, fmt.Errorf("missing consumer")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive: %d", cfg.QueueCapacity)
	}
	return &Node{
		cfg:      cfg,
		agent:    agent,
		log:      log.With(zap.String("agent", agent), zap.String("instance", uuid.NewString())),
		metrics:  m,
		registry: NewRegistry(),
		consumer: consumer,
		inbound:  make(chan wire.Message, cfg.QueueCapacity),
		requests: make(chan broadcastReq),
		loopDone: make(chan struct{}),
	}, nil
}

// Initialize binds the listener and records the node's start time. An
// address-in-use bind means another instance owns the port; the node logs it
// and continues in client-only mode with a nil error. Any other bind failure
// is returned so the caller can report it; the node stays usable for
// discovery either way.
func (n *Node) Initialize() error {
	n.startedAt = time.Now()
	return n.startListener()
}

// Run is the node's event loop: the initial discovery pass, a delayed second
// pass to catch peers mid-startup, discovery on an adaptive cadence, the
// injector drain, and broadcast requests arriving over the synchronous
// bridge. It blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	n.running.Store(true)
	defer func() {
		n.running.Store(false)
		close(n.loopDone)
	}()

	n.spawnScan(ctx)
	second := time.NewTimer(n.cfg.SecondScanDelay)
	defer second.Stop()
	scan := time.NewTimer(n.scanInterval())
	defer scan.Stop()
	inject := time.NewTicker(n.injectorInterval())
	defer inject.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-second.C:
			n.spawnScan(ctx)
		case <-scan.C:
			n.spawnScan(ctx)
			scan.Reset(n.scanInterval())
		case <-inject.C:
			n.drainInbound()
		case req := <-n.requests:
			req.reply <- n.broadcast(req.text)
		}
	}
}

// spawnScan runs one discovery scan off the loop goroutine so slow dial
// timeouts cannot starve broadcasts and the injector. The scan guard keeps
// at most one scan in flight.
func (n *Node) spawnScan(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.discover(ctx)
	}()
}

// Broadcast is the synchronous bridge for callers outside the event loop.
// It fails fast (false, never an error) when the loop is not running or no
// links are live, and otherwise hands the text to the loop and waits a
// bounded time for the delivery result.
func (n *Node) Broadcast(text string) bool {
	if !n.running.Load() || n.registry.Len() == 0 {
		return false
	}
	req := broadcastReq{text: text, reply: make(chan bool, 1)}
	timer := time.NewTimer(n.broadcastTimeout())
	defer timer.Stop()
	select {
	case n.requests <- req:
	case <-n.loopDone:
		return false
	case <-timer.C:
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-n.loopDone:
		return false
	case <-timer.C:
		return false
	}
}

// IsAvailable reports whether the node can currently participate in the
// mesh: its listener is bound or at least one link is live.
func (n *Node) IsAvailable() bool {
	return n.listenerUp.Load() || n.registry.Len() > 0
}

// Links reports the current live link count.
func (n *Node) Links() int {
	return n.registry.Len()
}

// Cleanup closes the listener and every link, then waits for the readers and
// any in-flight scan to finish.
func (n *Node) Cleanup() {
	n.closeListener()
	n.registry.CloseAll()
	n.wg.Wait()
	n.metrics.SetLinksLive(0)
}

func (n *Node) scanInterval() time.Duration {
	iv := n.cfg.SteadyInterval
	if time.Since(n.startedAt) < n.cfg.WarmupWindow {
		iv = n.cfg.WarmupInterval
	}
	if iv <= 0 {
		iv = 30 * time.Second
	}
	return iv
}

func (n *Node) injectorInterval() time.Duration {
	if n.cfg.InjectorInterval > 0 {
		return n.cfg.InjectorInterval
	}
	return 500 * time.Millisecond
}

func (n *Node) broadcastTimeout() time.Duration {
	if n.cfg.BroadcastTimeout > 0 {
		return n.cfg.BroadcastTimeout
	}
	return 2 * time.Second
}
