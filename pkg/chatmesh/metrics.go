package chatmesh

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/jabolina/chatmesh/pkg/chatmesh/definition"
)

// Metrics bundles the Prometheus instruments a Node exposes.
type Metrics struct {
	CommittedTotal    prometheus.Counter
	ProposalRetries   prometheus.Counter
	ProposalsRejected prometheus.Counter
	LivePeers         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewMetrics creates a fresh, isolated registry (never the global
// default one) so that multiple Nodes in the same test process, or the
// fuzzy multi-node scenarios, do not collide on metric registration. It
// also registers the prometheus/common build-info collector, the same
// chatmesh_build_info gauge family every Prometheus-instrumented binary
// in this ecosystem exposes.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	version.Version = definition.ProtocolVersion
	reg.MustRegister(version.NewCollector("chatmesh"))

	return &Metrics{
		CommittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatmesh_committed_messages_total",
			Help: "Number of messages this node has appended to its commit log.",
		}),
		ProposalRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatmesh_proposal_retries_total",
			Help: "Number of times the replicator backed off and re-proposed the same message.",
		}),
		ProposalsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatmesh_proposals_rejected_total",
			Help: "Number of PROPOSE requests this node rejected as a peer.",
		}),
		LivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatmesh_live_peers",
			Help: "Current size of the live peer set.",
		}),
		registry: reg,
	}
}

// Handler exposes the registry over /metrics for the side HTTP listener
// described in the CLI surface (--metrics-addr).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
