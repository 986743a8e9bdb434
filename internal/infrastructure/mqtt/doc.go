// Package mqtt provides MQTT connectivity for the I/O bridge.
//
// The broker is used in two directions:
//
//	devices ──► iobridge/input/{device}/{zone} ──► mqttin driver
//	telemetry ─► iobridge/state/... and iobridge/diagnostic/... ──► dashboards
//
// The Client adds auto-reconnect with subscription restoration, a retained
// online/offline status (with a Last Will for crashes), input validation
// and panic recovery around handlers.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceInputs("ring-1"), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Use TLS (cfg.Broker.TLS) outside of local development.
package mqtt
