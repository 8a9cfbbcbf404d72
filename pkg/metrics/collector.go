package metrics

import (
	"time"

	"github.com/cuemby/forge/pkg/types"
)

// InventorySource is the subset of the Server Inventory a collector needs.
// Kept as a local interface rather than importing pkg/inventory directly so
// metrics stays a leaf package with no dependency on the component it
// observes.
type InventorySource interface {
	ListServers() ([]types.Server, error)
}

// MonitorSource is the subset of the Health Monitor a collector needs.
type MonitorSource interface {
	IsLeader() bool
	PeerCount() int
}

// Collector periodically samples the inventory and monitor and updates the
// corresponding gauges.
type Collector struct {
	inventory InventorySource
	monitor   MonitorSource
	stopCh    chan struct{}
}

// NewCollector creates a metrics collector over the given sources. Either may
// be nil, in which case the corresponding metrics are left untouched.
func NewCollector(inv InventorySource, mon MonitorSource) *Collector {
	return &Collector{
		inventory: inv,
		monitor:   mon,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	c.collectServerMetrics()
	c.collectMonitorMetrics()
}

func (c *Collector) collectServerMetrics() {
	if c.inventory == nil {
		return
	}

	servers, err := c.inventory.ListServers()
	if err != nil {
		return
	}

	counts := make(map[string]map[string]int)
	for _, s := range servers {
		region := s.Region
		status := string(s.Status)
		if counts[region] == nil {
			counts[region] = make(map[string]int)
		}
		counts[region][status]++
	}

	for region, statuses := range counts {
		for status, count := range statuses {
			ServersTotal.WithLabelValues(region, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectMonitorMetrics() {
	if c.monitor == nil {
		return
	}

	if c.monitor.IsLeader() {
		MonitorIsLeader.Set(1)
	} else {
		MonitorIsLeader.Set(0)
	}

	MonitorPeersTotal.Set(float64(c.monitor.PeerCount()))
}
