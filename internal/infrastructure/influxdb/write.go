package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementZoneEdge   = "zone_edge"
	MeasurementDiagnostic = "diagnostic"
	MeasurementLoop       = "consumer_loop"
)

// LoopSample is one reading of the consumer loop counters.
type LoopSample struct {
	Ticks   uint64
	Actions uint64
	Panics  uint64
	Pending int
}

// withSite adds the site tag when one is configured.
func withSite(site string, tags map[string]string) map[string]string {
	if site != "" {
		tags["site"] = site
	}
	return tags
}

// zoneEdgePoint records one accepted zone transition. active is 1 for On
// and 0 for Off so edges chart as a step function.
func zoneEdgePoint(site, device, class, zone string, on bool, at time.Time) *write.Point {
	active := 0
	if on {
		active = 1
	}
	return write.NewPoint(
		MeasurementZoneEdge,
		withSite(site, map[string]string{"device": device, "class": class, "zone": zone}),
		map[string]any{"active": active},
		at,
	)
}

func diagnosticPoint(site, class, kind, message string, at time.Time) *write.Point {
	if class == "" {
		class = "system"
	}
	return write.NewPoint(
		MeasurementDiagnostic,
		withSite(site, map[string]string{"class": class, "kind": kind}),
		map[string]any{"count": 1, "message": message},
		at,
	)
}

func loopPoint(site string, s LoopSample, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementLoop,
		withSite(site, map[string]string{}),
		map[string]any{
			"ticks":   s.Ticks,
			"actions": s.Actions,
			"panics":  s.Panics,
			"pending": s.Pending,
		},
		at,
	)
}

// WriteZoneEdge records an accepted zone transition.
//
//	client.WriteZoneEdge("ring-1", "button_ring", "BA3", true, edge.Timestamp)
func (c *Client) WriteZoneEdge(device, class, zone string, on bool, at time.Time) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(zoneEdgePoint(c.site, device, class, zone, on, at))
	}
}

// WriteDiagnostic records a diagnostic event. Tagging by kind lets
// dashboards count faults per class without parsing messages. An empty
// class is tagged "system".
func (c *Client) WriteDiagnostic(class, kind, message string, at time.Time) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(diagnosticPoint(c.site, class, kind, message, at))
	}
}

// WriteLoopStats records consumer loop counters sampled at at.
func (c *Client) WriteLoopStats(s LoopSample, at time.Time) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(loopPoint(c.site, s, at))
	}
}
