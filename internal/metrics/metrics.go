// Package metrics exposes prometheus counters and gauges for mesh activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node's instruments on a private registry so multiple
// nodes can coexist in one process (tests run several).
type Metrics struct {
	reg *prometheus.Registry

	linksLive        prometheus.Gauge
	connectAttempts  prometheus.Counter
	connectSuccesses prometheus.Counter
	scansTotal       prometheus.Counter
	acceptsTotal     prometheus.Counter

	broadcastsTotal  prometheus.Counter
	broadcastsEmpty  prometheus.Counter
	linksPruned      prometheus.Counter
	messagesReceived prometheus.Counter
	decodeErrors     prometheus.Counter
	queueDropped     prometheus.Counter
	injectedTotal    prometheus.Counter
	selfDropped      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "meshchat", Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	m := &Metrics{
		reg: reg,
		linksLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshchat", Name: "links_live", Help: "Currently established peer links.",
		}),
		connectAttempts:  counter("connect_attempts_total", "Outbound discovery connect attempts."),
		connectSuccesses: counter("connect_successes_total", "Outbound connects that produced a link."),
		scansTotal:       counter("discovery_scans_total", "Completed discovery scans."),
		acceptsTotal:     counter("accepts_total", "Inbound connections accepted."),
		broadcastsTotal:  counter("broadcasts_total", "Broadcasts that reached at least one link."),
		broadcastsEmpty:  counter("broadcasts_empty_total", "Broadcasts attempted with no live links."),
		linksPruned:      counter("links_pruned_total", "Links removed after a failed write."),
		messagesReceived: counter("messages_received_total", "Messages decoded off the wire."),
		decodeErrors:     counter("decode_errors_total", "Inbound lines that failed to decode."),
		queueDropped:     counter("queue_dropped_total", "Inbound messages dropped on a full queue."),
		injectedTotal:    counter("injected_total", "Messages forwarded to the context consumer."),
		selfDropped:      counter("self_dropped_total", "Self-authored messages dropped by the injector."),
	}
	reg.MustRegister(m.linksLive)
	return m
}

// Handler serves this node's registry, for the optional local metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) SetLinksLive(n int)  { m.linksLive.Set(float64(n)) }
func (m *Metrics) IncConnectAttempt()  { m.connectAttempts.Inc() }
func (m *Metrics) IncConnectSuccess()  { m.connectSuccesses.Inc() }
func (m *Metrics) IncScan()            { m.scansTotal.Inc() }
func (m *Metrics) IncAccept()          { m.acceptsTotal.Inc() }
func (m *Metrics) IncBroadcast()       { m.broadcastsTotal.Inc() }
func (m *Metrics) IncBroadcastEmpty()  { m.broadcastsEmpty.Inc() }
func (m *Metrics) IncLinkPruned()      { m.linksPruned.Inc() }
func (m *Metrics) IncMessageReceived() { m.messagesReceived.Inc() }
func (m *Metrics) IncDecodeError()     { m.decodeErrors.Inc() }
func (m *Metrics) IncQueueDropped()    { m.queueDropped.Inc() }
func (m *Metrics) IncInjected()        { m.injectedTotal.Inc() }
func (m *Metrics) IncSelfDropped()     { m.selfDropped.Inc() }
