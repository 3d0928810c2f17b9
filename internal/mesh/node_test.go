package mesh

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"meshchat/internal/config"
	"meshchat/internal/testutil"
	"meshchat/internal/wire"
)

// recorder is a test consumer capturing everything the injector forwards.
type recorder struct {
	mu      sync.Mutex
	entries []string
	sources []string
}

func (r *recorder) AddContext(text, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, text)
	r.sources = append(r.sources, source)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *recorder) contains(text string) bool {
	for _, e := range r.all() {
		if e == text {
			return true
		}
	}
	return false
}

func testMeshConfig(port int) config.MeshConfig {
	return config.MeshConfig{
		Host:             "127.0.0.1",
		Port:             port,
		Window:           5,
		DialTimeout:      200 * time.Millisecond,
		SecondScanDelay:  300 * time.Millisecond,
		WarmupInterval:   200 * time.Millisecond,
		WarmupWindow:     time.Minute,
		SteadyInterval:   time.Second,
		InjectorInterval: 50 * time.Millisecond,
		BroadcastTimeout: time.Second,
		QueueCapacity:    64,
	}
}

func startTestNode(t *testing.T, agent string, port int) (*Node, *recorder) {
	t.Helper()
	return startTestNodeCfg(t, agent, testMeshConfig(port))
}

func startTestNodeCfg(t *testing.T, agent string, cfg config.MeshConfig) (*Node, *recorder) {
	t.Helper()
	rec := &recorder{}
	n, err := NewNode(agent, cfg, rec, nil, nil)
	if err != nil {
		t.Fatalf("new node %s: %v", agent, err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("initialize %s: %v", agent, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("run loop did not exit")
		}
		n.Cleanup()
	})
	return n, rec
}

func TestTwoNodesConvergeAndDeliver(t *testing.T) {
	ports := testutil.ReservePorts(t, 2)
	anna, _ := startTestNode(t, "Anna", ports[0])
	time.Sleep(300 * time.Millisecond)
	miku, mikuRec := startTestNode(t, "Miku", ports[1])

	testutil.WaitFor(t, 5*time.Second, func() bool {
		return anna.IsAvailable() && miku.IsAvailable() && anna.Links() > 0 && miku.Links() > 0
	}, "nodes did not link up")

	// One link per remote port, ever.
	for _, n := range []*Node{anna, miku} {
		seen := make(map[int]bool)
		for _, p := range n.registry.Ports() {
			if seen[p] {
				t.Fatalf("duplicate port entry %d", p)
			}
			seen[p] = true
		}
	}
	if !anna.registry.HasPort(ports[1]) && !miku.registry.HasPort(ports[0]) {
		t.Fatal("neither node holds an outbound link to its peer")
	}

	if !anna.Broadcast("hello") {
		t.Fatal("broadcast returned false with live links")
	}
	testutil.WaitFor(t, 5*time.Second, func() bool {
		return mikuRec.contains("Anna said: hello")
	}, "miku did not receive Anna's message")

	for _, got := range mikuRec.all() {
		if strings.HasPrefix(got, "Miku said:") {
			t.Fatalf("self-authored message injected: %q", got)
		}
	}
}

func TestBroadcastWithoutLoopReturnsFalse(t *testing.T) {
	rec := &recorder{}
	n, err := NewNode("Anna", testMeshConfig(testutil.ReservePorts(t, 1)[0]), rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if n.Broadcast("hello") {
		t.Fatal("broadcast succeeded with no loop and no links")
	}
}

func TestBroadcastEmptyRegistryReturnsFalse(t *testing.T) {
	rec := &recorder{}
	n, err := NewNode("Anna", testMeshConfig(testutil.ReservePorts(t, 1)[0]), rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if n.broadcast("hello") {
		t.Fatal("async broadcast reported delivery with empty registry")
	}
}

func TestBroadcastPrunesFailedLink(t *testing.T) {
	rec := &recorder{}
	n, err := NewNode("Anna", testMeshConfig(testutil.ReservePorts(t, 1)[0]), rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	// Healthy link: a pipe with a peer draining it.
	healthyLocal, healthyRemote := net.Pipe()
	defer healthyLocal.Close()
	defer healthyRemote.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := healthyRemote.Read(buf); err != nil {
				return
			}
		}
	}()
	healthy, ok := n.registry.Add(healthyLocal, 9001)
	if !ok {
		t.Fatal("add healthy link")
	}

	// Dead link: already closed, every write fails.
	deadLocal, deadRemote := net.Pipe()
	_ = deadLocal.Close()
	_ = deadRemote.Close()
	dead, ok := n.registry.Add(deadLocal, 9002)
	if !ok {
		t.Fatal("add dead link")
	}

	if !n.broadcast("hello") {
		t.Fatal("broadcast should succeed when one link takes the write")
	}
	if n.registry.HasPort(dead.Port()) {
		t.Fatal("failed link still registered after sweep")
	}
	if !n.registry.HasPort(healthy.Port()) {
		t.Fatal("healthy link was pruned")
	}
}

func TestInjectorDropsSelfAuthored(t *testing.T) {
	rec := &recorder{}
	n, err := NewNode("Anna", testMeshConfig(testutil.ReservePorts(t, 1)[0]), rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	n.inbound <- msg("Anna", "looped back")
	n.inbound <- msg("Miku", "hi")
	n.inbound <- msg("Anna", "also mine")
	n.drainInbound()

	got := rec.all()
	if len(got) != 1 || got[0] != "Miku said: hi" {
		t.Fatalf("unexpected injected entries: %v", got)
	}
	if rec.sources[0] != ContextSource {
		t.Fatalf("unexpected source tag: %s", rec.sources[0])
	}
	if len(n.inbound) != 0 {
		t.Fatalf("queue not drained: %d left", len(n.inbound))
	}
}

func TestPeerExitRemovesLink(t *testing.T) {
	ports := testutil.ReservePorts(t, 1)
	cfg := testMeshConfig(ports[0])
	cfg.Window = 0
	n, _ := startTestNodeCfg(t, "Anna", cfg)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ports[0]))
	if err != nil {
		t.Fatalf("dial node: %v", err)
	}
	testutil.WaitFor(t, 3*time.Second, func() bool { return n.Links() == 1 }, "accepted link not registered")

	// Malformed line is discarded without tearing the link down.
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n.Links() != 1 {
		t.Fatal("decode error tore down the link")
	}

	// Unclean peer exit: reader sees stream end and removes the link.
	_ = conn.Close()
	testutil.WaitFor(t, 3*time.Second, func() bool { return n.Links() == 0 }, "link not removed after peer exit")

	// A subsequent broadcast simply reports no delivery.
	if n.Broadcast("anyone there") {
		t.Fatal("broadcast succeeded with no links")
	}
}

func TestClientOnlyModeWhenPortInUse(t *testing.T) {
	ports := testutil.ReservePorts(t, 2)

	// Another process owns the port.
	occupier, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", ports[0]))
	if err != nil {
		t.Fatalf("occupy port: %v", err)
	}
	defer occupier.Close()
	go func() {
		for {
			c, err := occupier.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	rec := &recorder{}
	n, err := NewNode("Anna", testMeshConfig(ports[0]), rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := n.Initialize(); err != nil {
		t.Fatalf("address-in-use should not be fatal: %v", err)
	}
	if n.IsAvailable() {
		t.Fatal("client-only node with no links reported available")
	}

	// A peer with a real listener inside the window still gets discovered.
	peer, _ := startTestNode(t, "Miku", ports[1])
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
		n.Cleanup()
	}()

	testutil.WaitFor(t, 5*time.Second, func() bool {
		return n.IsAvailable() && n.Links() > 0 && peer.Links() > 0
	}, "client-only node did not discover its peer")
}

func TestInboundQueueDropsNewest(t *testing.T) {
	cfg := testMeshConfig(testutil.ReservePorts(t, 1)[0])
	cfg.QueueCapacity = 1
	rec := &recorder{}
	n, err := NewNode("Anna", cfg, rec, nil, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	local, remote := net.Pipe()
	defer remote.Close()
	link, ok := n.registry.Add(local, 0)
	if !ok {
		t.Fatal("add link")
	}
	n.wg.Add(1)
	go n.readLoop(link)

	for _, text := range []string{"first", "second", "third"} {
		line := fmt.Sprintf(`{"agent":"Miku","message":%q,"timestamp":1}`+"\n", text)
		if _, err := remote.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = remote.Close()
	n.wg.Wait()

	if len(n.inbound) != 1 {
		t.Fatalf("queue should hold exactly its capacity, got %d", len(n.inbound))
	}
	got := <-n.inbound
	if got.Message != "first" {
		t.Fatalf("drop-newest policy violated: kept %q", got.Message)
	}
}

func msg(agent, text string) wire.Message {
	return wire.Message{Agent: agent, Message: text, Timestamp: 1}
}
