package metrics

import "time"

// SiloStats is a snapshot of the local silo's occupancy, reported by
// silo.Silo.Stats.
type SiloStats struct {
	Blocks        int
	UsedBytes     int64
	CapacityBytes int64
}

// SiloSource is implemented by silo.Silo.
type SiloSource interface {
	Stats() SiloStats
}

// OverlaySource is implemented by overlay.Overlay.
type OverlaySource interface {
	PeerCount() int
}

// Collector polls the silo and overlay on an interval and republishes
// their state as Prometheus gauges, since neither wants a dependency on
// the metrics package for every state change.
type Collector struct {
	silo    SiloSource
	overlay OverlaySource
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector over silo and overlay. Either
// may be nil, in which case its metrics are simply never updated.
func NewCollector(silo SiloSource, overlay OverlaySource) *Collector {
	return &Collector{silo: silo, overlay: overlay, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every interval until Stop is called.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.silo != nil {
		stats := c.silo.Stats()
		SiloBlocksTotal.Set(float64(stats.Blocks))
		SiloUsageBytes.Set(float64(stats.UsedBytes))
		SiloCapacityBytes.Set(float64(stats.CapacityBytes))
	}
	if c.overlay != nil {
		OverlayPeersTotal.Set(float64(c.overlay.PeerCount()))
	}
}
