// Package metrics exposes Task Manager, Port/Resource Allocator,
// Cross-Camera Registry, and Alarm Router observability as Prometheus
// gauges.
// Grounded on the sibling ts-vms example's internal/metrics/collector.go
// (a private prometheus.Registry, a GaugeVec-per-dimension shape, and a
// ticker-driven Start/collect loop exposed via promhttp.HandlerFor),
// re-pointed from ts-vms's media/SFU planes at sentrynet's Task Manager
// and collaborators.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentrynet/internal/allocator"
	"sentrynet/internal/alarm"
	"sentrynet/internal/reid"
	"sentrynet/internal/taskmanager"
)

// Sources bundles the collaborators sampled each tick.
type Sources struct {
	TaskManager *taskmanager.Manager
	Allocator   *allocator.Allocator
	Registry    *reid.Registry
	AlarmRouter *alarm.Router
}

// Collector periodically samples Sources into a private Prometheus
// registry and serves it over HTTP.
type Collector struct {
	src      Sources
	registry *prometheus.Registry

	activePipelines   prometheus.Gauge
	healthyCycles     prometheus.Gauge
	selfUnhealthy     prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	allocatorPorts    prometheus.Gauge
	allocatorContexts prometheus.Gauge
	registrySize      prometheus.Gauge
	crossCameraMatch  prometheus.Gauge
	alarmDelivered    prometheus.Gauge
	alarmFailed       prometheus.Gauge
	alarmQueueDepth   prometheus.Gauge
}

// New constructs a Collector over src.
func New(src Sources) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{src: src, registry: reg}

	c.activePipelines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_active_pipelines", Help: "Number of registered Video Pipelines",
	})
	c.healthyCycles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_monitor_healthy_cycles_total", Help: "Task Manager monitor cycles completed",
	})
	c.selfUnhealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_monitor_self_unhealthy", Help: "1 if the last monitor cycle exceeded its budget",
	})
	c.uptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_uptime_seconds", Help: "Seconds since Task Manager start",
	})
	c.allocatorPorts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_allocator_ports_used", Help: "MJPEG ports currently allocated",
	})
	c.allocatorContexts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_allocator_contexts_used", Help: "Private accelerator contexts currently allocated",
	})
	c.registrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_reid_global_tracks", Help: "Live Cross-Camera Registry global tracks",
	})
	c.crossCameraMatch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_reid_cross_camera_matches_total", Help: "Cross-camera ReID matches made",
	})
	c.alarmDelivered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_alarm_delivered_total", Help: "Alarm channel deliveries that succeeded",
	})
	c.alarmFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_alarm_failed_total", Help: "Alarm channel deliveries that failed",
	})
	c.alarmQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentrynet_alarm_queue_depth", Help: "Payloads currently queued in the Alarm Router",
	})

	for _, g := range []prometheus.Collector{
		c.activePipelines, c.healthyCycles, c.selfUnhealthy, c.uptimeSeconds,
		c.allocatorPorts, c.allocatorContexts, c.registrySize, c.crossCameraMatch,
		c.alarmDelivered, c.alarmFailed, c.alarmQueueDepth,
	} {
		reg.MustRegister(g)
	}
	return c
}

// Handler returns the HTTP handler serving this collector's registry in
// the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start runs the sampling loop until ctx is done.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	if c.src.TaskManager != nil {
		stats := c.src.TaskManager.SystemStats()
		c.activePipelines.Set(float64(stats.ActiveCount))
		c.healthyCycles.Set(float64(stats.HealthyCycles))
		c.uptimeSeconds.Set(stats.Uptime.Seconds())
		if stats.SelfUnhealthy {
			c.selfUnhealthy.Set(1)
		} else {
			c.selfUnhealthy.Set(0)
		}
	}
	if c.src.Allocator != nil {
		a := c.src.Allocator.Snapshot()
		c.allocatorPorts.Set(float64(a.PortsUsed))
		c.allocatorContexts.Set(float64(a.ContextsUsed))
	}
	if c.src.Registry != nil {
		c.registrySize.Set(float64(c.src.Registry.Size()))
		c.crossCameraMatch.Set(float64(c.src.Registry.CrossCameraMatches()))
	}
	if c.src.AlarmRouter != nil {
		s := c.src.AlarmRouter.Snapshot()
		c.alarmDelivered.Set(float64(s.Delivered))
		c.alarmFailed.Set(float64(s.Failed))
		c.alarmQueueDepth.Set(float64(s.QueueDepth))
	}
}
