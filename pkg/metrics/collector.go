package metrics

import (
	"time"

	"github.com/cuemby/castlehub/pkg/types"
)

// ClusterLister lists persisted clusters
type ClusterLister interface {
	ListClusters() ([]*types.Cluster, error)
}

// Collector periodically refreshes the cluster gauges
type Collector struct {
	lister   ClusterLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(lister ClusterLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect sets castlehub_clusters_total for every status, including
// statuses with no clusters so stale values are cleared.
func (c *Collector) Collect() {
	clusters, err := c.lister.ListClusters()
	if err != nil {
		UpdateComponent("store", false, err.Error())
		return
	}
	UpdateComponent("store", true, "")

	counts := make(map[types.ClusterStatus]int)
	for _, cluster := range clusters {
		counts[cluster.Status]++
	}

	for _, status := range types.AllStatuses {
		if status == types.StatusNotFound {
			continue
		}
		ClustersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
