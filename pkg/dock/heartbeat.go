package dock

import (
	"context"
	"time"

	"github.com/cuemby/doughnut/pkg/events"
	"github.com/cuemby/doughnut/pkg/health"
	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/metrics"
)

// MaxConsecutiveFailures is how many Ping failures in a row a Remote
// tolerates before Heartbeat evicts it from its PeerCache.
const MaxConsecutiveFailures = 3

// Heartbeat periodically pings every peer a PeerCache has dialed so
// far, evicting and announcing the loss of any peer that stops
// answering rather than waiting for the next Paxos round to discover
// it the hard way.
type Heartbeat struct {
	cache    *PeerCache
	broker   *events.Broker
	interval time.Duration
}

// NewHeartbeat builds a Heartbeat that pings cache's peers every
// interval, publishing events.EventDisconnected on broker when a peer
// is evicted.
func NewHeartbeat(cache *PeerCache, broker *events.Broker, interval time.Duration) *Heartbeat {
	return &Heartbeat{cache: cache, broker: broker, interval: interval}
}

// Run blocks, pinging on a ticker until ctx is canceled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	for id, r := range h.cache.Snapshot() {
		err := r.Ping(ctx)
		if err == nil {
			metrics.DockConnectionsTotal.WithLabelValues(StateConnected.String()).Inc()
			continue
		}

		// Ping failed; a quick TCP probe tells us whether the peer's
		// listener is reachable at all or the failure is protocol-level
		// (a stale handshake, a rejected passport), which is worth
		// distinguishing in the log before counting the failure.
		reason := "handshake or protocol error"
		if endpoints := r.Location().Endpoints; len(endpoints) > 0 {
			probe := health.NewTCPChecker(endpoints[0])
			if res := probe.Check(ctx); !res.Healthy {
				reason = "unreachable: " + res.Message
			}
		}
		log.WithComponent("dock").Warn().Str("node", id).Str("reason", reason).Err(err).Msg("heartbeat ping failed")
		if r.Failures() < MaxConsecutiveFailures {
			continue
		}
		h.cache.Evict(id)
		metrics.DockConnectionsTotal.WithLabelValues(StateDisconnected.String()).Inc()
		if h.broker != nil {
			h.broker.Publish(&events.Event{Type: events.EventDisconnected, Message: id})
		}
	}
}
