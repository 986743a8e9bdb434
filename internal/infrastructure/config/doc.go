// Package config loads and validates I/O bridge configuration.
//
// Beyond the usual infrastructure sections (database, MQTT, API, InfluxDB,
// logging) it describes the consumer loop, the indicator scene, the telemetry
// sinks and the devices connected at startup. Each device names a class
// (touch_panel, button_ring, led_device) and a driver (sim, linedev, mqttin).
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret guards the device control routes
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.Name, d.Class, d.IsEnabled())
//	}
package config
