// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// Three measurements are written, each tagged with the site id:
//
//	zone_edge       tags device, class, zone; field active (0/1)
//	diagnostic      tags class ("system" when empty), kind; fields count, message
//	consumer_loop   fields ticks, actions, panics, pending
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry to InfluxDB is off
//	}
//	defer client.Close()
//
//	client.WriteZoneEdge("ring-1", "button_ring", "BA3", true, time.Now())
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Loop counters are sampled every stats_interval by the telemetry pipeline.
// Rejected batches are counted (WriteErrors) and reported through SetOnError.
package influxdb
